package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"

	"mvdan.cc/sh/v3/shell"

	"github.com/dagucloud/blobtrigger/internal/cmn/backoff"
	"github.com/dagucloud/blobtrigger/internal/cmn/config"
	"github.com/dagucloud/blobtrigger/internal/cmn/logger"
	"github.com/dagucloud/blobtrigger/internal/cmn/logger/tag"
)

// maxOutputLog caps how much command output is attached to a failure log.
const maxOutputLog = 4096

type commandExecutor struct {
	fn config.Function
}

var _ FunctionExecutor = (*commandExecutor)(nil)

func newCommandExecutor(fn config.Function) (FunctionExecutor, error) {
	if _, err := shell.Fields(fn.Command, func(string) string { return "" }); err != nil {
		return nil, fmt.Errorf("function %q: failed to parse command: %w", fn.Name, err)
	}
	return &commandExecutor{fn: fn}, nil
}

func (e *commandExecutor) TryExecute(ctx context.Context, inst *FunctionInstance) DelayedError {
	if e.fn.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.fn.Timeout)
		defer cancel()
	}

	env := e.environ(inst)
	lookup := make(map[string]string, len(env))
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			lookup[k] = v
		}
	}

	args, err := shell.Fields(e.fn.Command, func(name string) string { return lookup[name] })
	if err != nil {
		return Delay(inst, backoff.Permanent(fmt.Errorf("failed to expand command: %w", err)))
	}
	if len(args) == 0 {
		return Delay(inst, backoff.Permanent(errors.New("command is empty")))
	}

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...) // nolint: gosec
	cmd.Dir = e.fn.Dir
	cmd.Env = env
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Delay(inst, backoff.Permanent(fmt.Errorf("command not found: %w", err)))
		}

		attrs := []any{tag.Function(inst.Function), tag.InstanceID(inst.ID), tag.Error(err)}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			attrs = append(attrs, tag.ExitCode(exitErr.ExitCode()))
		}
		attrs = append(attrs, tag.String("output", tail(output.String(), maxOutputLog)))
		logger.Warn(ctx, "Command failed", attrs...)
		return Delay(inst, fmt.Errorf("command %q failed: %w", args[0], err))
	}

	logger.Debug(ctx, "Command finished",
		tag.Function(inst.Function),
		tag.InstanceID(inst.ID),
		tag.Size(output.Len()),
	)
	return nil
}

// environ returns the process environment followed by the function's env and
// the object variables. Later entries win.
func (e *commandExecutor) environ(inst *FunctionInstance) []string {
	env := os.Environ()
	for _, k := range slices.Sorted(maps.Keys(e.fn.Env)) {
		env = append(env, k+"="+e.fn.Env[k])
	}
	return append(env, inst.Environ()...)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func init() {
	Register(config.ExecutorCommand, newCommandExecutor)
}
