package backoff

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

var (
	// ErrRetriesExhausted is returned when the maximum number of retries has been reached.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

type (
	// RetryPolicy computes the wait before the next attempt.
	RetryPolicy interface {
		// ComputeNextInterval returns the duration to wait before the next
		// retry, or an error if no more retries should be attempted.
		ComputeNextInterval(retryCount int, elapsedTime time.Duration, err error) (time.Duration, error)
	}

	// Retrier tracks the retry count of a sequence of failures.
	Retrier interface {
		// Next computes the next retry interval and updates internal state.
		Next(err error) (time.Duration, error)
		// Reset starts a new sequence, typically after a success.
		Reset()
		// Attempts returns the number of intervals handed out since the last reset.
		Attempts() int
	}
)

const (
	noMaximumAttempts = 0

	defaultBackoffFactor = 2.0
	defaultMaxInterval   = 10 * time.Second
	defaultMaxRetries    = noMaximumAttempts
)

// NewExponentialBackoffPolicy creates a new ExponentialBackoffPolicy with the specified parameters.
func NewExponentialBackoffPolicy(initialInterval time.Duration) *ExponentialBackoffPolicy {
	return &ExponentialBackoffPolicy{
		InitialInterval: initialInterval,
		BackoffFactor:   defaultBackoffFactor,
		MaxInterval:     defaultMaxInterval,
		MaxRetries:      defaultMaxRetries,
	}
}

// ExponentialBackoffPolicy is a retry policy that implements exponential backoff.
type ExponentialBackoffPolicy struct {
	// InitialInterval is the initial interval before the first retry.
	InitialInterval time.Duration `json:"initialInterval,omitempty"`
	// BackoffFactor is the factor by which the interval increases after each retry.
	BackoffFactor float64 `json:"backoffFactor,omitempty"`
	// MaxInterval is the maximum interval cap for exponential backoff.
	MaxInterval time.Duration `json:"maxInterval,omitempty"`
	// MaxRetries is the maximum number of retries allowed. 0 means unlimited retries.
	MaxRetries int `json:"maxRetries,omitempty"`
}

// ComputeNextInterval computes the next retry interval using exponential backoff.
func (p *ExponentialBackoffPolicy) ComputeNextInterval(retryCount int, _ time.Duration, _ error) (time.Duration, error) {
	if p.MaxRetries > 0 && retryCount >= p.MaxRetries {
		return 0, ErrRetriesExhausted
	}

	interval := float64(p.InitialInterval) * math.Pow(p.BackoffFactor, float64(retryCount))
	if interval > float64(p.MaxInterval) {
		interval = float64(p.MaxInterval)
	}

	return time.Duration(interval), nil
}

// JitterFunc randomizes an interval.
type JitterFunc func(interval time.Duration) time.Duration

// FullJitter picks a random interval in [0, interval].
func FullJitter(interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	return rand.N(interval + 1)
}

// EqualJitter keeps half of the interval and randomizes the other half.
func EqualJitter(interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	half := interval / 2
	return half + rand.N(interval-half+1)
}

type jitteredPolicy struct {
	base   RetryPolicy
	jitter JitterFunc
}

// WithJitter wraps a policy so that every interval it computes is randomized.
func WithJitter(policy RetryPolicy, jitter JitterFunc) RetryPolicy {
	return &jitteredPolicy{base: policy, jitter: jitter}
}

func (p *jitteredPolicy) ComputeNextInterval(retryCount int, elapsed time.Duration, err error) (time.Duration, error) {
	interval, computeErr := p.base.ComputeNextInterval(retryCount, elapsed, err)
	if computeErr != nil {
		return 0, computeErr
	}
	return p.jitter(interval), nil
}

// NewRetrier creates a new Retrier instance with the specified retry policy.
func NewRetrier(retryPolicy RetryPolicy) Retrier {
	return &retrierImpl{retryPolicy: retryPolicy}
}

type retrierImpl struct {
	retryPolicy RetryPolicy
	retryCount  int
	startTime   time.Time
	mu          sync.Mutex
}

// Next computes the next retry interval and updates internal state.
func (r *retrierImpl) Next(err error) (time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.startTime.IsZero() {
		r.startTime = time.Now()
	}

	interval, computeErr := r.retryPolicy.ComputeNextInterval(r.retryCount, time.Since(r.startTime), err)
	if computeErr != nil {
		return 0, computeErr
	}
	r.retryCount++

	return interval, nil
}

// Reset resets the retrier to its initial state.
func (r *retrierImpl) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retryCount = 0
	r.startTime = time.Time{}
}

func (r *retrierImpl) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retryCount
}
