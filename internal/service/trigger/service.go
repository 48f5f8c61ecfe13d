// Package trigger runs the change detector as a long-lived service: a
// scheduled poll loop feeding the function dispatcher, a health server and
// an optional config watcher that starts tracking newly listed containers.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/dagucloud/blobtrigger/internal/cmn/backoff"
	"github.com/dagucloud/blobtrigger/internal/cmn/config"
	"github.com/dagucloud/blobtrigger/internal/cmn/logger"
	"github.com/dagucloud/blobtrigger/internal/cmn/logger/tag"
	"github.com/dagucloud/blobtrigger/internal/core/blob"
	"github.com/dagucloud/blobtrigger/internal/core/watermark"
	"github.com/dagucloud/blobtrigger/internal/dispatch"
	"github.com/dagucloud/blobtrigger/internal/metrics"
	"github.com/dagucloud/blobtrigger/internal/scanner"
)

// ErrAlreadyStarted is returned when Start is called more than once.
var ErrAlreadyStarted = errors.New("service already started")

// Status describes the outcome of recent poll passes.
type Status struct {
	LastPoll            time.Time     `json:"lastPoll,omitzero"`
	LastPollDuration    time.Duration `json:"lastPollDuration"`
	LastError           string        `json:"lastError,omitempty"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	Polls               int64         `json:"polls"`
}

// Reloader loads a fresh copy of the configuration.
type Reloader func() (*config.Config, error)

// Service polls the tracked containers on a schedule and hands every detected
// object to the dispatcher.
type Service struct {
	cfg        *config.Config
	store      blob.Store
	set        *watermark.Set
	poller     *scanner.Poller
	dispatcher *dispatch.Dispatcher
	health     *HealthServer
	metrics    *metrics.Metrics
	registry   *prometheus.Registry
	retrier    backoff.Retrier
	reload     Reloader

	healthOpts   []HealthOption
	dispatchOpts []dispatch.Option

	ticks    chan struct{}
	quit     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once

	mu     sync.RWMutex
	status Status
}

// Option configures a Service.
type Option func(*Service)

// WithRegistry registers metrics with r instead of a private registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(s *Service) {
		s.registry = r
	}
}

// WithReloader replaces how the config is reloaded when the file changes.
func WithReloader(r Reloader) Option {
	return func(s *Service) {
		s.reload = r
	}
}

// WithHealthOptions passes options to the health server.
func WithHealthOptions(opts ...HealthOption) Option {
	return func(s *Service) {
		s.healthOpts = append(s.healthOpts, opts...)
	}
}

// WithDispatchOptions passes options to the dispatcher.
func WithDispatchOptions(opts ...dispatch.Option) Option {
	return func(s *Service) {
		s.dispatchOpts = append(s.dispatchOpts, opts...)
	}
}

// New creates a Service tracking cfg.TrackedContainers in store.
func New(cfg *config.Config, store blob.Store, opts ...Option) (*Service, error) {
	s := &Service{
		cfg:   cfg,
		store: store,
		ticks: make(chan struct{}, 1),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := cron.ParseStandard(cfg.Poll.Schedule); err != nil {
		return nil, fmt.Errorf("invalid poll schedule %q: %w", cfg.Poll.Schedule, err)
	}

	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.metrics = metrics.New(s.registry)

	names := cfg.TrackedContainers()
	containers := make([]blob.Container, 0, len(names))
	for _, name := range names {
		containers = append(containers, blob.Container{Name: name})
	}
	s.set = watermark.New(containers...)
	s.poller = scanner.NewPoller(store, s.set, scanner.WithMetrics(s.metrics))

	dispatcher, err := dispatch.New(cfg.Functions, cfg.Dispatch,
		append([]dispatch.Option{dispatch.WithMetrics(s.metrics)}, s.dispatchOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	s.dispatcher = dispatcher

	s.retrier = backoff.NewRetrier(backoff.WithJitter(&backoff.ExponentialBackoffPolicy{
		InitialInterval: cfg.Poll.FailureBackoff.Initial,
		BackoffFactor:   2,
		MaxInterval:     cfg.Poll.FailureBackoff.Max,
	}, backoff.EqualJitter))

	if s.reload == nil && cfg.ConfigFileUsed != "" {
		path := cfg.ConfigFileUsed
		s.reload = func() (*config.Config, error) {
			return config.NewConfigLoader(viper.New(), config.WithConfigFile(path)).Load()
		}
	}

	s.health = NewHealthServer(cfg.Health.Port, s, s.registry,
		append([]HealthOption{WithJSONRequestLogs(cfg.Core.LogFormat == "json")}, s.healthOpts...)...)

	return s, nil
}

// Start runs the service until ctx is cancelled or Stop is called. The first
// poll pass starts immediately.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(s.done)

	location := s.cfg.Core.Location
	if location == nil {
		location = time.Local
	}

	logger.Info(ctx, "Starting blobtrigger",
		tag.Store(s.cfg.Store.Type),
		tag.Count(s.set.Len()),
		tag.Schedule(s.cfg.Poll.Schedule),
		tag.String("functions", fmt.Sprint(s.dispatcher.Functions())),
	)

	if err := s.health.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}
	defer func() {
		if err := s.health.Stop(context.WithoutCancel(ctx)); err != nil {
			logger.Error(ctx, "Failed to stop health server", tag.Error(err))
		}
	}()

	scheduler := cron.New(cron.WithLocation(location), cron.WithLogger(cronLogger{ctx: ctx}))
	entryID, err := scheduler.AddFunc(s.cfg.Poll.Schedule, s.Trigger)
	if err != nil {
		return fmt.Errorf("failed to schedule polls: %w", err)
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		if err := s.dispatcher.Run(ctx); err != nil {
			logger.Error(ctx, "Dispatcher stopped with error", tag.Error(err))
		}
	})
	if s.cfg.WatchConfig {
		wg.Go(func() {
			s.watchConfig(ctx)
		})
	}

	scheduler.Start()
	s.Trigger()
	s.pollLoop(ctx, scheduler, entryID)

	<-scheduler.Stop().Done()
	s.dispatcher.Close()
	wg.Wait()

	logger.Info(ctx, "Blobtrigger stopped")
	return nil
}

// Stop ends the poll loop, lets queued instances finish and waits for Start
// to return or ctx to expire.
func (s *Service) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.quit)
	})
	if !s.started.Load() {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger requests a poll pass as soon as the loop is idle. Requests made
// while a pass is pending are coalesced.
func (s *Service) Trigger() {
	select {
	case s.ticks <- struct{}{}:
	default:
	}
}

func (s *Service) pollLoop(ctx context.Context, scheduler *cron.Cron, entryID cron.EntryID) {
	retry := time.NewTimer(time.Hour)
	retry.Stop()
	defer retry.Stop()

	backingOff := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case <-s.ticks:
			if backingOff {
				logger.Debug(ctx, "Skipping scheduled poll during failure backoff")
				continue
			}
		case <-retry.C:
			backingOff = false
		}

		err := s.PollNow(ctx)
		if err == nil || ctx.Err() != nil {
			s.retrier.Reset()
			logger.Debug(ctx, "Next poll scheduled", tag.NextRun(scheduler.Entry(entryID).Next))
			continue
		}
		if errors.Is(err, scanner.ErrPollInProgress) {
			continue
		}

		wait, _ := s.retrier.Next(err)
		backingOff = true
		retry.Reset(wait)
		logger.Warn(ctx, "Poll failed; backing off",
			tag.Error(err),
			tag.Attempt(s.retrier.Attempts()),
			tag.Interval(wait),
		)
	}
}

// PollNow runs one poll pass and records its outcome.
func (s *Service) PollNow(ctx context.Context) error {
	started := time.Now()
	err := s.poller.Poll(ctx, s.sink())
	if errors.Is(err, scanner.ErrPollInProgress) {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastPoll = started
	s.status.LastPollDuration = time.Since(started)
	s.status.Polls++
	if err != nil {
		s.status.LastError = err.Error()
		s.status.ConsecutiveFailures++
	} else {
		s.status.LastError = ""
		s.status.ConsecutiveFailures = 0
	}
	return err
}

func (s *Service) sink() scanner.Sink {
	if len(s.cfg.Functions) > 0 {
		return s.dispatcher.Sink()
	}
	return func(ctx context.Context, obj blob.Object) {
		logger.Info(ctx, "Object detected",
			tag.Container(obj.Container),
			tag.Key(obj.Key),
			tag.URI(obj.URI),
			tag.LastModified(obj.LastModified),
		)
	}
}

// AddContainers starts tracking the named containers and returns how many
// were not tracked before. Containers are never removed.
func (s *Service) AddContainers(ctx context.Context, names ...string) int {
	added := 0
	for _, name := range names {
		if _, ok := s.set.Lookup(name); ok {
			continue
		}
		s.set.Append(blob.Container{Name: name})
		added++
		logger.Info(ctx, "Tracking new container", tag.Container(name))
	}
	s.metrics.SetContainersTracked(s.set.Len())
	return added
}

// Status returns the outcome of recent poll passes.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Containers returns the tracked containers with their watermarks.
func (s *Service) Containers() []watermark.Entry {
	return s.set.Entries()
}

// Registry returns the metrics registry.
func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

type cronLogger struct {
	ctx context.Context
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	logger.Debug(l.ctx, "cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger.Error(l.ctx, "cron: "+msg, append([]any{tag.Error(err)}, keysAndValues...)...)
}
