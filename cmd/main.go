package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dagucloud/blobtrigger/internal/cmd"
	"github.com/dagucloud/blobtrigger/internal/cmn/config"
)

var rootCmd = &cobra.Command{
	Use:   config.AppSlug,
	Short: "Blobtrigger runs functions when objects appear in object-store containers",
	Long: `Blobtrigger runs functions when objects appear in object-store containers.

It polls a set of containers on a schedule, detects objects that are new or
modified since the previous pass using per-container last-modified
watermarks, and hands each one to the matching functions: a log line, a
shell command or a webhook.
`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(cmd.Watch())
	rootCmd.AddCommand(cmd.Scan())
	rootCmd.AddCommand(cmd.Containers())
	rootCmd.AddCommand(cmd.Version())

	config.Version = version
}

var version = "0.0.0"
