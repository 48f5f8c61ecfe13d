package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dagucloud/blobtrigger/internal/cmn/backoff"
	"github.com/dagucloud/blobtrigger/internal/cmn/config"
)

// ErrUnknownExecutor is returned when a function names an executor that is
// not registered.
var ErrUnknownExecutor = errors.New("unknown executor")

// FunctionExecutor runs function instances.
//
// TryExecute never returns the failure of the function itself as a Go error
// to be handled inline. A failed instance is described by the returned
// DelayedError, which the caller may retry, log or surface later. A nil
// DelayedError means the instance succeeded.
type FunctionExecutor interface {
	TryExecute(ctx context.Context, inst *FunctionInstance) DelayedError
}

// DelayedError is a recorded function failure.
type DelayedError interface {
	error
	// Instance returns the instance that failed.
	Instance() *FunctionInstance
	// Permanent reports whether retrying the instance cannot succeed.
	Permanent() bool
}

type executionError struct {
	inst *FunctionInstance
	err  error
}

func (e *executionError) Error() string {
	return fmt.Sprintf("function %q instance %s: %v", e.inst.Function, e.inst.ID, e.err)
}

func (e *executionError) Unwrap() error { return e.err }

func (e *executionError) Instance() *FunctionInstance { return e.inst }

func (e *executionError) Permanent() bool { return backoff.IsPermanent(e.err) }

// Delay wraps err as the DelayedError of inst. It returns nil when err is nil.
// Wrap err with backoff.Permanent to stop retries.
func Delay(inst *FunctionInstance, err error) DelayedError {
	if err == nil {
		return nil
	}
	return &executionError{inst: inst, err: err}
}

// ExecutorFactory builds the executor of a single function.
type ExecutorFactory func(fn config.Function) (FunctionExecutor, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]ExecutorFactory)
)

// Register makes an executor available by name.
func Register(name string, factory ExecutorFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// NewExecutor creates the executor named by fn.Executor.
func NewExecutor(fn config.Function) (FunctionExecutor, error) {
	registryMu.RLock()
	factory, ok := registry[fn.Executor]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExecutor, fn.Executor)
	}
	return factory(fn)
}
