package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dagucloud/blobtrigger/internal/scanner"
)

func Containers() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "containers [flags] [container...]",
			Short: "List the tracked containers and their watermarks",
			Long: `List the containers blobtrigger tracks, in poll order.

Containers come from the containers list in the config followed by any
container referenced only by a function. With --scan, one poll pass runs
first and the printed watermarks are the newest last-modified times found.

Example:
  blobtrigger containers --scan -o yaml
`,
		}, []commandLineFlag{outputFlag, scanFlag}, runContainers,
	)
}

func runContainers(ctx *Context, args []string) error {
	format, err := parseOutputFormat(ctx.StringFlag("output"))
	if err != nil {
		return err
	}

	set := trackedSet(ctx, args)
	if ctx.BoolFlag("scan") && set.Len() > 0 {
		store, err := ctx.Store()
		if err != nil {
			return err
		}
		if _, err := scanner.NewPoller(store, set).ScanOnce(ctx); err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
	}

	return writeWatermarks(ctx.Command.OutOrStdout(), format, set.Entries())
}
