package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dagucloud/blobtrigger/internal/service/trigger"
)

func Watch() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "watch [flags]",
			Short: "Poll the configured containers and trigger functions for new objects",
			Long: `Run blobtrigger as a long-running process.

Every tracked container is scanned on the poll schedule. Objects whose
last-modified time is newer than the container's watermark are dispatched to
the functions whose container, prefix, pattern and filter match them.

The process runs until it receives SIGINT or SIGTERM.

Example:
  blobtrigger watch --config config.yaml
`,
			Args: cobra.NoArgs,
		}, nil, runWatch,
	)
}

func runWatch(ctx *Context, _ []string) error {
	store, err := ctx.Store()
	if err != nil {
		return err
	}

	svc, err := trigger.New(ctx.Config, store)
	if err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	signalCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(signalCtx); err != nil {
		return fmt.Errorf("failed to run service: %w", err)
	}
	return nil
}
