package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/dagucloud/blobtrigger/internal/cmn/logger"
	"github.com/dagucloud/blobtrigger/internal/cmn/logger/tag"
	"github.com/dagucloud/blobtrigger/internal/core/blob"
	"github.com/dagucloud/blobtrigger/internal/core/watermark"
	"github.com/dagucloud/blobtrigger/internal/dispatch"
	"github.com/dagucloud/blobtrigger/internal/scanner"
)

var errNoContainers = errors.New("no containers to scan: configure containers or functions, or pass container names")

func Scan() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "scan [flags] [container...]",
			Short: "Run a single poll pass and print the detected objects",
			Long: `Scan every tracked container once and print each object found.

Containers named on the command line are scanned in addition to the
configured ones. As every watermark starts from the beginning of time, a
single pass reports every object currently in the containers.

With --dispatch, the matching functions are also run for each object and
the command waits for them to finish.

Example:
  blobtrigger scan uploads --output json
  blobtrigger scan --dispatch
`,
		}, []commandLineFlag{outputFlag, dispatchFlag}, runScan,
	)
}

func runScan(ctx *Context, args []string) error {
	format, err := parseOutputFormat(ctx.StringFlag("output"))
	if err != nil {
		return err
	}

	set := trackedSet(ctx, args)
	if set.Len() == 0 {
		return errNoContainers
	}

	store, err := ctx.Store()
	if err != nil {
		return err
	}
	poller := scanner.NewPoller(store, set)

	var objects []blob.Object
	if ctx.BoolFlag("dispatch") {
		objects, err = scanAndDispatch(ctx, poller)
	} else {
		objects, err = poller.ScanOnce(ctx)
	}
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	return writeObjects(ctx.Command.OutOrStdout(), format, objects)
}

// scanAndDispatch runs one pass with a dispatcher attached and waits for the
// queued instances to finish.
func scanAndDispatch(ctx *Context, poller *scanner.Poller) ([]blob.Object, error) {
	if len(ctx.Config.Functions) == 0 {
		return nil, errors.New("--dispatch requires at least one configured function")
	}

	var failures []error
	var mu sync.Mutex
	d, err := dispatch.New(ctx.Config.Functions, ctx.Config.Dispatch,
		dispatch.WithFailureHandler(func(_ context.Context, derr dispatch.DelayedError) {
			mu.Lock()
			defer mu.Unlock()
			failures = append(failures, fmt.Errorf("%s: %w", derr.Instance().Function, derr))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		if err := d.Run(ctx); err != nil {
			logger.Error(ctx, "Dispatcher stopped with error", tag.Error(err))
		}
	})

	var objects []blob.Object
	pollErr := poller.Poll(ctx, func(ctx context.Context, obj blob.Object) {
		objects = append(objects, obj)
		n, err := d.Dispatch(ctx, obj, dispatch.ReasonHostCall)
		if err != nil {
			logger.Warn(ctx, "Failed to dispatch object",
				tag.Container(obj.Container),
				tag.Key(obj.Key),
				tag.Error(err),
			)
			return
		}
		logger.Debug(ctx, "Object dispatched",
			tag.Container(obj.Container),
			tag.Key(obj.Key),
			tag.Count(n),
		)
	})

	d.Close()
	wg.Wait()

	if pollErr != nil {
		return objects, pollErr
	}
	if len(failures) > 0 {
		return objects, fmt.Errorf("%d function instance(s) failed: %w", len(failures), errors.Join(failures...))
	}
	return objects, nil
}

// trackedSet returns a watermark set over the configured containers followed
// by the extra names.
func trackedSet(ctx *Context, extra []string) *watermark.Set {
	set := watermark.New()
	for _, name := range ctx.Config.TrackedContainers() {
		set.Append(blob.Container{Name: name})
	}
	for _, name := range extra {
		if name != "" {
			set.Append(blob.Container{Name: name})
		}
	}
	return set
}
