package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type commandLineFlag struct {
	name, shorthand, defaultValue, usage string
	isBool                               bool
	required                             bool
}

var (
	configFlag = commandLineFlag{
		name:      "config",
		shorthand: "c",
		usage:     "config file (default is $HOME/.config/blobtrigger/config.yaml)",
	}
	envFileFlag = commandLineFlag{
		name:  "env-file",
		usage: "dotenv file loaded into the environment before the config",
	}
	quietFlag = commandLineFlag{
		name:      "quiet",
		shorthand: "q",
		usage:     "suppress log output",
		isBool:    true,
	}
	outputFlag = commandLineFlag{
		name:         "output",
		shorthand:    "o",
		defaultValue: outputTable,
		usage:        "output format: table, json or yaml",
	}
	dispatchFlag = commandLineFlag{
		name:   "dispatch",
		usage:  "run the matching functions for every detected object",
		isBool: true,
	}
	scanFlag = commandLineFlag{
		name:   "scan",
		usage:  "run one poll pass before printing the watermarks",
		isBool: true,
	}
)

var commonFlags = []commandLineFlag{configFlag, envFileFlag, quietFlag}

func initFlags(cmd *cobra.Command, additionalFlags ...commandLineFlag) {
	flags := append(append([]commandLineFlag{}, commonFlags...), additionalFlags...)
	for _, flag := range flags {
		if flag.isBool {
			cmd.Flags().BoolP(flag.name, flag.shorthand, flag.defaultValue == "true", flag.usage)
		} else {
			cmd.Flags().StringP(flag.name, flag.shorthand, flag.defaultValue, flag.usage)
		}
		if flag.required {
			if err := cmd.MarkFlagRequired(flag.name); err != nil {
				fmt.Printf("failed to mark flag %s as required: %v\n", flag.name, err)
			}
		}
	}
}

// bindFlags binds the common flags and additionalFlags to v.
func bindFlags(v *viper.Viper, cmd *cobra.Command, additionalFlags ...commandLineFlag) error {
	flags := append(append([]commandLineFlag{}, commonFlags...), additionalFlags...)
	for _, flag := range flags {
		if err := v.BindPFlag(flag.name, cmd.Flags().Lookup(flag.name)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag.name, err)
		}
	}
	return nil
}
