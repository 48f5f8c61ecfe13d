package trigger_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagucloud/blobtrigger/internal/cmn/config"
	"github.com/dagucloud/blobtrigger/internal/core/blob"
	"github.com/dagucloud/blobtrigger/internal/dispatch"
	"github.com/dagucloud/blobtrigger/internal/service/trigger"
	"github.com/dagucloud/blobtrigger/internal/storage/memstore"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testConfig(containers ...string) *config.Config {
	return &config.Config{
		Core:       config.Core{LogFormat: "text", Location: time.UTC},
		Store:      config.Store{Type: "memory"},
		Containers: containers,
		Poll: config.Poll{
			Schedule:       "@every 1h",
			FailureBackoff: config.Backoff{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond},
		},
		Dispatch: config.Dispatch{Workers: 1, QueueSize: 10},
	}
}

type recordingExecutor struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingExecutor) TryExecute(_ context.Context, inst *dispatch.FunctionInstance) dispatch.DelayedError {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, inst.Object.Key)
	return nil
}

func (r *recordingExecutor) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

// run starts svc and returns a function that stops it and waits for Start.
func run(t *testing.T, svc *trigger.Service) (stop func()) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- svc.Start(context.Background()) }()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, svc.Stop(ctx))
		require.NoError(t, <-done)
	}
}

func TestNew_TracksConfiguredAndFunctionContainers(t *testing.T) {
	t.Parallel()
	cfg := testConfig("uploads", "archive")
	cfg.Functions = []config.Function{
		{Name: "f", Container: "events", Executor: config.ExecutorLog},
		{Name: "g", Container: "uploads", Executor: config.ExecutorLog},
	}

	svc, err := trigger.New(cfg, memstore.New())
	require.NoError(t, err)

	var names []string
	for _, e := range svc.Containers() {
		names = append(names, e.Container.Name)
		assert.Equal(t, blob.EpochStart, e.Watermark)
	}
	assert.Equal(t, []string{"uploads", "archive", "events"}, names)
}

func TestNew_InvalidSchedule(t *testing.T) {
	t.Parallel()
	cfg := testConfig("c")
	cfg.Poll.Schedule = "whenever"

	_, err := trigger.New(cfg, memstore.New())
	assert.ErrorContains(t, err, "invalid poll schedule")
}

func TestPollNow_RecordsStatus(t *testing.T) {
	t.Parallel()
	store := memstore.New()
	store.Put("uploads", "a.txt", base.Add(time.Minute), 1)

	svc, err := trigger.New(testConfig("uploads"), store)
	require.NoError(t, err)

	require.NoError(t, svc.PollNow(context.Background()))
	status := svc.Status()
	assert.Equal(t, int64(1), status.Polls)
	assert.Zero(t, status.ConsecutiveFailures)
	assert.False(t, status.LastPoll.IsZero())
	assert.Equal(t, base.Add(time.Minute), svc.Containers()[0].Watermark)

	store.FailList("uploads", errors.New("throttled"))
	require.Error(t, svc.PollNow(context.Background()))
	status = svc.Status()
	assert.Equal(t, 1, status.ConsecutiveFailures)
	assert.Contains(t, status.LastError, "throttled")

	store.FailList("uploads", nil)
	require.NoError(t, svc.PollNow(context.Background()))
	assert.Zero(t, svc.Status().ConsecutiveFailures)
}

func TestService_DispatchesDetectedObjects(t *testing.T) {
	t.Parallel()
	store := memstore.New()
	store.Put("uploads", "a.png", base.Add(time.Minute), 1)
	store.Put("uploads", "b.txt", base.Add(2*time.Minute), 1)

	cfg := testConfig()
	cfg.Functions = []config.Function{{Name: "thumbs", Container: "uploads", Pattern: "*.png", Executor: config.ExecutorLog}}

	exec := &recordingExecutor{}
	svc, err := trigger.New(cfg, store, trigger.WithDispatchOptions(dispatch.WithExecutor("thumbs", exec)))
	require.NoError(t, err)

	stop := run(t, svc)
	require.Eventually(t, func() bool {
		return len(exec.seen()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	store.Put("uploads", "c.png", base.Add(3*time.Minute), 1)
	svc.Trigger()
	require.Eventually(t, func() bool {
		return len(exec.seen()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	stop()
	assert.Equal(t, []string{"a.png", "c.png"}, exec.seen())
}

func TestService_BacksOffAfterFailure(t *testing.T) {
	t.Parallel()
	store := memstore.New()
	store.Put("uploads", "a.txt", base.Add(time.Minute), 1)
	store.FailList("uploads", errors.New("connection reset"))

	svc, err := trigger.New(testConfig("uploads"), store)
	require.NoError(t, err)

	stop := run(t, svc)
	defer stop()

	require.Eventually(t, func() bool {
		return svc.Status().ConsecutiveFailures >= 2
	}, 5*time.Second, 5*time.Millisecond, "failed polls should be retried after backoff")

	store.FailList("uploads", nil)
	require.Eventually(t, func() bool {
		return svc.Status().ConsecutiveFailures == 0
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, base.Add(time.Minute), svc.Containers()[0].Watermark)
}

func TestService_StartTwice(t *testing.T) {
	t.Parallel()
	svc, err := trigger.New(testConfig("c"), memstore.New())
	require.NoError(t, err)

	stop := run(t, svc)
	require.Eventually(t, func() bool { return svc.Status().Polls > 0 }, 5*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, svc.Start(context.Background()), trigger.ErrAlreadyStarted)
	stop()
}

func TestService_StopBeforeStart(t *testing.T) {
	t.Parallel()
	svc, err := trigger.New(testConfig("c"), memstore.New())
	require.NoError(t, err)
	assert.NoError(t, svc.Stop(context.Background()))
}

func TestService_StopsWhenContextCancelled(t *testing.T) {
	t.Parallel()
	svc, err := trigger.New(testConfig("c"), memstore.New())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	require.Eventually(t, func() bool { return svc.Status().Polls > 0 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestAddContainers(t *testing.T) {
	t.Parallel()
	svc, err := trigger.New(testConfig("a"), memstore.New())
	require.NoError(t, err)

	assert.Equal(t, 1, svc.AddContainers(context.Background(), "a", "b", "b"))
	assert.Equal(t, 0, svc.AddContainers(context.Background(), "b"))

	entries := svc.Containers()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[1].Container.Name)
}

func TestService_ReloadsContainersFromConfigFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  type: memory\ncontainers: [a]\n"), 0o600))

	store := memstore.New()
	store.Put("b", "late.txt", base.Add(time.Minute), 1)

	cfg := testConfig("a")
	cfg.WatchConfig = true
	cfg.ConfigFileUsed = path

	svc, err := trigger.New(cfg, store)
	require.NoError(t, err)

	stop := run(t, svc)
	defer stop()

	require.Eventually(t, func() bool {
		// Rewrite until the watcher is registered and notices the change.
		_ = os.WriteFile(path, []byte("store:\n  type: memory\ncontainers: [a, b]\n"), 0o600)
		return len(svc.Containers()) == 2
	}, 5*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		return svc.Containers()[1].Watermark.Equal(base.Add(time.Minute))
	}, 5*time.Second, 10*time.Millisecond, "new container should be polled right away")
}
