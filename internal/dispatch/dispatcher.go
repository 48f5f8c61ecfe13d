package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dagucloud/blobtrigger/internal/cmn/backoff"
	"github.com/dagucloud/blobtrigger/internal/cmn/config"
	"github.com/dagucloud/blobtrigger/internal/cmn/logger"
	"github.com/dagucloud/blobtrigger/internal/cmn/logger/tag"
	"github.com/dagucloud/blobtrigger/internal/core/blob"
	"github.com/dagucloud/blobtrigger/internal/metrics"
	"github.com/dagucloud/blobtrigger/internal/scanner"
)

var (
	// ErrQueueFull is returned by TryEnqueue when no queue slot is free.
	ErrQueueFull = errors.New("dispatch queue is full")
	// ErrClosed is returned when enqueueing after Close.
	ErrClosed = errors.New("dispatcher is closed")
)

// FailureHandler receives every instance that failed after all retries.
type FailureHandler func(ctx context.Context, derr DelayedError)

type route struct {
	name     string
	matcher  *Matcher
	executor FunctionExecutor
}

// Dispatcher matches detected objects against functions and executes the
// resulting instances on a fixed pool of workers fed by a bounded queue.
type Dispatcher struct {
	routes     []route
	byName     map[string]route
	queue      chan *FunctionInstance
	workers    int
	maxRetries int
	policy     backoff.RetryPolicy
	metrics    *metrics.Metrics
	onFailure  FailureHandler
	executors  map[string]FunctionExecutor

	mu        sync.RWMutex
	closed    bool
	closing   chan struct{}
	closeOnce sync.Once
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records queue and execution metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithFailureHandler is called for every instance that failed for good.
func WithFailureHandler(h FailureHandler) Option {
	return func(d *Dispatcher) {
		d.onFailure = h
	}
}

// WithExecutor replaces the executor built for the named function.
func WithExecutor(function string, exec FunctionExecutor) Option {
	return func(d *Dispatcher) {
		d.executors[function] = exec
	}
}

// WithRetryPolicy replaces the policy computed from the dispatch settings.
func WithRetryPolicy(policy backoff.RetryPolicy) Option {
	return func(d *Dispatcher) {
		d.policy = policy
	}
}

// New creates a Dispatcher for functions. Call Run to start the workers.
func New(functions []config.Function, cfg config.Dispatch, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		byName:     make(map[string]route, len(functions)),
		queue:      make(chan *FunctionInstance, max(cfg.QueueSize, 1)),
		workers:    max(cfg.Workers, 1),
		maxRetries: cfg.MaxRetries,
		executors:  make(map[string]FunctionExecutor),
		closing:    make(chan struct{}),
	}

	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = time.Second
	}
	d.policy = backoff.WithJitter(&backoff.ExponentialBackoffPolicy{
		InitialInterval: interval,
		BackoffFactor:   2,
		MaxInterval:     interval * 32,
		MaxRetries:      cfg.MaxRetries,
	}, backoff.EqualJitter)

	for _, opt := range opts {
		opt(d)
	}

	for _, fn := range functions {
		matcher, err := NewMatcher(fn)
		if err != nil {
			return nil, err
		}
		exec, ok := d.executors[fn.Name]
		if !ok {
			exec, err = NewExecutor(fn)
			if err != nil {
				return nil, fmt.Errorf("function %q: %w", fn.Name, err)
			}
		}
		r := route{name: fn.Name, matcher: matcher, executor: exec}
		d.routes = append(d.routes, r)
		d.byName[fn.Name] = r
	}

	return d, nil
}

// Functions returns the names of the configured functions.
func (d *Dispatcher) Functions() []string {
	names := make([]string, 0, len(d.routes))
	for _, r := range d.routes {
		names = append(names, r.name)
	}
	return names
}

// Sink returns a poller sink that dispatches every detected object. Enqueueing
// blocks while the queue is full, which slows the poll pass down.
func (d *Dispatcher) Sink() scanner.Sink {
	return func(ctx context.Context, obj blob.Object) {
		if _, err := d.Dispatch(ctx, obj, ReasonAutomaticTrigger); err != nil {
			logger.Warn(ctx, "Failed to dispatch object",
				tag.Container(obj.Container),
				tag.Key(obj.Key),
				tag.Error(err),
			)
		}
	}
}

// Dispatch enqueues one instance per function matching obj and returns how
// many were enqueued.
func (d *Dispatcher) Dispatch(ctx context.Context, obj blob.Object, reason ExecutionReason) (int, error) {
	enqueued := 0
	for _, r := range d.routes {
		ok, err := r.matcher.Match(ctx, obj)
		if err != nil {
			logger.Warn(ctx, "Function filter failed",
				tag.Function(r.name),
				tag.Key(obj.Key),
				tag.Error(err),
			)
			continue
		}
		if !ok {
			continue
		}

		inst, err := NewFunctionInstance(r.name, obj, reason)
		if err != nil {
			return enqueued, err
		}
		if err := d.Enqueue(ctx, inst); err != nil {
			return enqueued, err
		}
		enqueued++
	}
	return enqueued, nil
}

// Enqueue adds inst to the queue, waiting for a free slot.
func (d *Dispatcher) Enqueue(ctx context.Context, inst *FunctionInstance) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}

	d.metrics.InstanceQueued()
	select {
	case d.queue <- inst:
		return nil
	case <-d.closing:
		d.metrics.InstanceDequeued()
		return ErrClosed
	case <-ctx.Done():
		d.metrics.InstanceDequeued()
		return ctx.Err()
	}
}

// TryEnqueue adds inst to the queue without waiting.
func (d *Dispatcher) TryEnqueue(inst *FunctionInstance) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- inst:
		d.metrics.InstanceQueued()
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting instances. Workers finish the instances already
// queued and then Run returns. Close is safe to call more than once.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.closing)
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
}

// Run starts the workers and blocks until the dispatcher is closed and the
// queue is drained. Cancelling ctx closes the dispatcher; instances still
// queued at that point are dropped.
func (d *Dispatcher) Run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)

	for i := range d.workers {
		eg.Go(func() error {
			d.work(logger.WithValues(egCtx, tag.WorkerID(i)))
			return nil
		})
	}

	eg.Go(func() error {
		select {
		case <-egCtx.Done():
			d.Close()
		case <-d.closing:
		}
		return nil
	})

	return eg.Wait()
}

func (d *Dispatcher) work(ctx context.Context) {
	for inst := range d.queue {
		d.metrics.InstanceDequeued()

		if err := ctx.Err(); err != nil {
			logger.Warn(ctx, "Dropping queued instance",
				tag.Function(inst.Function),
				tag.InstanceID(inst.ID),
				tag.Error(err),
			)
			continue
		}

		r, ok := d.byName[inst.Function]
		if !ok {
			logger.Error(ctx, "No executor for instance",
				tag.Function(inst.Function),
				tag.InstanceID(inst.ID),
			)
			continue
		}
		d.execute(ctx, r, inst)
	}
}

func (d *Dispatcher) execute(ctx context.Context, r route, inst *FunctionInstance) {
	ctx = logger.WithValues(ctx, tag.Function(inst.Function), tag.InstanceID(inst.ID))
	start := time.Now()

	attempts := 0
	op := func(ctx context.Context) error {
		attempts++
		if derr := r.executor.TryExecute(ctx, inst); derr != nil {
			return derr
		}
		return nil
	}

	var err error
	if d.maxRetries == 0 {
		err = op(ctx)
	} else {
		err = backoff.Retry(ctx, op, d.policy, nil)
	}
	elapsed := time.Since(start)

	if err == nil {
		d.metrics.InstanceExecuted(inst.Function, metrics.ExecutionSucceeded, elapsed)
		logger.Debug(ctx, "Function instance succeeded",
			tag.Attempt(attempts),
			tag.Duration(elapsed),
		)
		return
	}

	d.metrics.InstanceExecuted(inst.Function, metrics.ExecutionFailed, elapsed)

	var derr DelayedError
	if !errors.As(err, &derr) {
		derr = Delay(inst, err)
	}
	logger.Error(ctx, "Function instance failed",
		tag.Attempt(attempts),
		tag.Duration(elapsed),
		tag.Key(inst.Object.Key),
		tag.Error(derr),
	)
	if d.onFailure != nil {
		d.onFailure(ctx, derr)
	}
}
