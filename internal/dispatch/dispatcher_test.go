package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagucloud/blobtrigger/internal/cmn/backoff"
	"github.com/dagucloud/blobtrigger/internal/cmn/config"
	"github.com/dagucloud/blobtrigger/internal/core/blob"
	"github.com/dagucloud/blobtrigger/internal/core/watermark"
	"github.com/dagucloud/blobtrigger/internal/dispatch"
	"github.com/dagucloud/blobtrigger/internal/metrics"
	"github.com/dagucloud/blobtrigger/internal/scanner"
	"github.com/dagucloud/blobtrigger/internal/storage/memstore"
)

type fakeExecutor struct {
	mu        sync.Mutex
	calls     []*dispatch.FunctionInstance
	failures  int
	permanent bool
}

func (f *fakeExecutor) TryExecute(_ context.Context, inst *dispatch.FunctionInstance) dispatch.DelayedError {
	f.mu.Lock()
	f.calls = append(f.calls, inst)
	n := len(f.calls)
	f.mu.Unlock()

	if n <= f.failures {
		err := errors.New("transient failure")
		if f.permanent {
			err = backoff.Permanent(err)
		}
		return dispatch.Delay(inst, err)
	}
	return nil
}

func (f *fakeExecutor) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.calls))
	for _, inst := range f.calls {
		keys = append(keys, inst.Object.Key)
	}
	return keys
}

type failureRecorder struct {
	mu     sync.Mutex
	errors []dispatch.DelayedError
}

func (r *failureRecorder) handle(_ context.Context, derr dispatch.DelayedError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, derr)
}

func (r *failureRecorder) all() []dispatch.DelayedError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dispatch.DelayedError(nil), r.errors...)
}

func dispatchConfig(maxRetries int) config.Dispatch {
	return config.Dispatch{Workers: 2, QueueSize: 16, MaxRetries: maxRetries, RetryInterval: time.Millisecond}
}

func fastRetries(maxRetries int) dispatch.Option {
	return dispatch.WithRetryPolicy(&backoff.ExponentialBackoffPolicy{
		InitialInterval: time.Millisecond,
		BackoffFactor:   1,
		MaxInterval:     time.Millisecond,
		MaxRetries:      maxRetries,
	})
}

func obj(container, key string) blob.Object {
	return blob.Object{Container: container, Key: key, URI: memstore.URI(container, key)}
}

// start runs d until the returned stop function closes it and waits for the
// queue to drain.
func start(t *testing.T, d *dispatch.Dispatcher) (stop func()) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	return func() {
		d.Close()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("dispatcher did not stop")
		}
	}
}

func TestDispatcher_RoutesMatchingObjects(t *testing.T) {
	t.Parallel()
	thumbs, all := &fakeExecutor{}, &fakeExecutor{}
	d, err := dispatch.New([]config.Function{
		{Name: "thumbs", Container: "uploads", Pattern: "*.png", Executor: config.ExecutorLog},
		{Name: "all", Container: "uploads", Executor: config.ExecutorLog},
	}, dispatchConfig(0),
		dispatch.WithExecutor("thumbs", thumbs),
		dispatch.WithExecutor("all", all),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"thumbs", "all"}, d.Functions())

	stop := start(t, d)
	ctx := context.Background()

	n, err := d.Dispatch(ctx, obj("uploads", "a.png"), dispatch.ReasonAutomaticTrigger)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = d.Dispatch(ctx, obj("uploads", "b.txt"), dispatch.ReasonAutomaticTrigger)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = d.Dispatch(ctx, obj("archive", "c.png"), dispatch.ReasonAutomaticTrigger)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	stop()
	assert.Equal(t, []string{"a.png"}, thumbs.keys())
	assert.ElementsMatch(t, []string{"a.png", "b.txt"}, all.keys())
}

func TestDispatcher_RetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{failures: 2}
	failures := &failureRecorder{}
	d, err := dispatch.New([]config.Function{{Name: "f", Container: "c", Executor: config.ExecutorLog}},
		dispatchConfig(3), fastRetries(3),
		dispatch.WithExecutor("f", exec),
		dispatch.WithFailureHandler(failures.handle),
	)
	require.NoError(t, err)

	stop := start(t, d)
	_, err = d.Dispatch(context.Background(), obj("c", "a"), dispatch.ReasonAutomaticTrigger)
	require.NoError(t, err)
	stop()

	assert.Len(t, exec.keys(), 3)
	assert.Empty(t, failures.all())
}

func TestDispatcher_ReportsExhaustedRetries(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{failures: 100}
	failures := &failureRecorder{}
	d, err := dispatch.New([]config.Function{{Name: "f", Container: "c", Executor: config.ExecutorLog}},
		dispatchConfig(2), fastRetries(2),
		dispatch.WithExecutor("f", exec),
		dispatch.WithFailureHandler(failures.handle),
	)
	require.NoError(t, err)

	stop := start(t, d)
	_, err = d.Dispatch(context.Background(), obj("c", "a"), dispatch.ReasonAutomaticTrigger)
	require.NoError(t, err)
	stop()

	assert.Len(t, exec.keys(), 3)
	reported := failures.all()
	require.Len(t, reported, 1)
	assert.Equal(t, "a", reported[0].Instance().Object.Key)
	assert.False(t, reported[0].Permanent())
}

func TestDispatcher_PermanentFailureIsNotRetried(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{failures: 100, permanent: true}
	failures := &failureRecorder{}
	d, err := dispatch.New([]config.Function{{Name: "f", Container: "c", Executor: config.ExecutorLog}},
		dispatchConfig(5), fastRetries(5),
		dispatch.WithExecutor("f", exec),
		dispatch.WithFailureHandler(failures.handle),
	)
	require.NoError(t, err)

	stop := start(t, d)
	_, err = d.Dispatch(context.Background(), obj("c", "a"), dispatch.ReasonAutomaticTrigger)
	require.NoError(t, err)
	stop()

	assert.Len(t, exec.keys(), 1)
	reported := failures.all()
	require.Len(t, reported, 1)
	assert.True(t, reported[0].Permanent())
}

func TestDispatcher_NoRetriesConfigured(t *testing.T) {
	t.Parallel()
	exec := &fakeExecutor{failures: 1}
	failures := &failureRecorder{}
	d, err := dispatch.New([]config.Function{{Name: "f", Container: "c", Executor: config.ExecutorLog}},
		dispatchConfig(0),
		dispatch.WithExecutor("f", exec),
		dispatch.WithFailureHandler(failures.handle),
	)
	require.NoError(t, err)

	stop := start(t, d)
	_, err = d.Dispatch(context.Background(), obj("c", "a"), dispatch.ReasonAutomaticTrigger)
	require.NoError(t, err)
	stop()

	assert.Len(t, exec.keys(), 1)
	assert.Len(t, failures.all(), 1)
}

func TestDispatcher_TryEnqueueQueueFull(t *testing.T) {
	t.Parallel()
	d, err := dispatch.New(nil, config.Dispatch{Workers: 1, QueueSize: 1})
	require.NoError(t, err)

	first, err := dispatch.NewFunctionInstance("f", obj("c", "a"), dispatch.ReasonHostCall)
	require.NoError(t, err)
	second, err := dispatch.NewFunctionInstance("f", obj("c", "b"), dispatch.ReasonHostCall)
	require.NoError(t, err)

	require.NoError(t, d.TryEnqueue(first))
	assert.ErrorIs(t, d.TryEnqueue(second), dispatch.ErrQueueFull)
}

func TestDispatcher_ClosedRejectsInstances(t *testing.T) {
	t.Parallel()
	d, err := dispatch.New([]config.Function{{Name: "f", Container: "c", Executor: config.ExecutorLog}}, dispatchConfig(0))
	require.NoError(t, err)

	d.Close()
	d.Close()

	inst, err := dispatch.NewFunctionInstance("f", obj("c", "a"), dispatch.ReasonHostCall)
	require.NoError(t, err)
	assert.ErrorIs(t, d.Enqueue(context.Background(), inst), dispatch.ErrClosed)
	assert.ErrorIs(t, d.TryEnqueue(inst), dispatch.ErrClosed)

	_, err = d.Dispatch(context.Background(), obj("c", "a"), dispatch.ReasonAutomaticTrigger)
	assert.ErrorIs(t, err, dispatch.ErrClosed)
}

func TestDispatcher_BlockedEnqueue(t *testing.T) {
	t.Parallel()

	newFull := func(t *testing.T) (*dispatch.Dispatcher, *dispatch.FunctionInstance) {
		d, err := dispatch.New(nil, config.Dispatch{Workers: 1, QueueSize: 1})
		require.NoError(t, err)
		inst, err := dispatch.NewFunctionInstance("f", obj("c", "a"), dispatch.ReasonHostCall)
		require.NoError(t, err)
		require.NoError(t, d.TryEnqueue(inst))
		return d, inst
	}

	t.Run("ReleasedByClose", func(t *testing.T) {
		t.Parallel()
		d, inst := newFull(t)

		errCh := make(chan error, 1)
		go func() { errCh <- d.Enqueue(context.Background(), inst) }()

		select {
		case err := <-errCh:
			t.Fatalf("enqueue returned early: %v", err)
		case <-time.After(20 * time.Millisecond):
		}

		d.Close()
		assert.ErrorIs(t, <-errCh, dispatch.ErrClosed)
	})

	t.Run("ReleasedByContext", func(t *testing.T) {
		t.Parallel()
		d, inst := newFull(t)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, d.Enqueue(ctx, inst), context.DeadlineExceeded)
	})
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	d, err := dispatch.New(nil, dispatchConfig(0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	inst, err := dispatch.NewFunctionInstance("f", obj("c", "a"), dispatch.ReasonHostCall)
	require.NoError(t, err)
	assert.ErrorIs(t, d.TryEnqueue(inst), dispatch.ErrClosed)
}

func TestDispatcher_SinkReceivesPolledObjects(t *testing.T) {
	t.Parallel()
	store := memstore.New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Put("uploads", "a.png", base.Add(time.Minute), 10)
	store.Put("uploads", "b.png", base.Add(2*time.Minute), 10)
	store.Put("other", "c.png", base.Add(time.Minute), 10)

	exec := &fakeExecutor{}
	d, err := dispatch.New([]config.Function{{Name: "f", Container: "uploads", Executor: config.ExecutorLog}},
		dispatchConfig(0),
		dispatch.WithExecutor("f", exec),
	)
	require.NoError(t, err)

	poller := scanner.NewPoller(store, watermark.New(blob.Container{Name: "uploads"}, blob.Container{Name: "other"}))
	stop := start(t, d)
	require.NoError(t, poller.Poll(context.Background(), d.Sink()))
	require.NoError(t, poller.Poll(context.Background(), d.Sink()))
	stop()

	assert.ElementsMatch(t, []string{"a.png", "b.png"}, exec.keys())
}

func TestDispatcher_RecordsMetrics(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	exec := &fakeExecutor{failures: 1}
	d, err := dispatch.New([]config.Function{{Name: "f", Container: "c", Executor: config.ExecutorLog}},
		dispatchConfig(0),
		dispatch.WithExecutor("f", exec),
		dispatch.WithMetrics(metrics.New(registry)),
	)
	require.NoError(t, err)

	stop := start(t, d)
	_, err = d.Dispatch(context.Background(), obj("c", "a"), dispatch.ReasonAutomaticTrigger)
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), obj("c", "b"), dispatch.ReasonAutomaticTrigger)
	require.NoError(t, err)
	stop()

	families, err := registry.Gather()
	require.NoError(t, err)

	results := map[string]float64{}
	queued := -1.0
	for _, mf := range families {
		switch mf.GetName() {
		case "blobtrigger_instances_executed_total":
			for _, m := range mf.GetMetric() {
				for _, label := range m.GetLabel() {
					if label.GetName() == "result" {
						results[label.GetValue()] = m.GetCounter().GetValue()
					}
				}
			}
		case "blobtrigger_instances_queued":
			queued = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}

	assert.Equal(t, map[string]float64{metrics.ExecutionSucceeded: 1, metrics.ExecutionFailed: 1}, results)
	assert.Equal(t, 0.0, queued)
}

func TestNew_InvalidFunctions(t *testing.T) {
	t.Parallel()

	_, err := dispatch.New([]config.Function{{Name: "f", Container: "c", Executor: "lambda"}}, dispatchConfig(0))
	assert.ErrorIs(t, err, dispatch.ErrUnknownExecutor)

	_, err = dispatch.New([]config.Function{{Name: "f", Container: "c", Pattern: "[", Executor: config.ExecutorLog}}, dispatchConfig(0))
	assert.Error(t, err)
}
