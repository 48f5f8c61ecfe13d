package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dagucloud/blobtrigger/internal/cmn/config"
	"github.com/dagucloud/blobtrigger/internal/cmn/logger"
	"github.com/dagucloud/blobtrigger/internal/cmn/logger/tag"
	"github.com/dagucloud/blobtrigger/internal/core/blob"
	"github.com/dagucloud/blobtrigger/internal/storage"
)

// Context holds the configuration for a command.
type Context struct {
	context.Context

	Command *cobra.Command
	Flags   []commandLineFlag
	Config  *config.Config
	Quiet   bool

	flagValues *viper.Viper
}

// NewContext loads the configuration, sets up the logger and logs any
// warnings collected while loading.
func NewContext(cmd *cobra.Command, flags []commandLineFlag) (*Context, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	v := viper.New()
	if err := bindFlags(v, cmd, flags...); err != nil {
		return nil, err
	}
	quiet := v.GetBool("quiet")

	var loaderOpts []config.ConfigLoaderOption
	if cfgPath := v.GetString("config"); cfgPath != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(cfgPath))
	}
	if envFile := v.GetString("env-file"); envFile != "" {
		loaderOpts = append(loaderOpts, config.WithEnvFile(envFile))
	}

	cfg, err := config.NewConfigLoader(viper.New(), loaderOpts...).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var opts []logger.Option
	if cfg.Core.Debug || os.Getenv("DEBUG") != "" {
		opts = append(opts, logger.WithDebug())
	}
	if cfg.Core.LogFormat != "" {
		opts = append(opts, logger.WithFormat(cfg.Core.LogFormat))
	}
	switch w := cmd.ErrOrStderr(); {
	case quiet:
		opts = append(opts, logger.WithQuiet())
	case w != os.Stderr:
		// Logs follow a redirected error stream instead of duplicating to stderr.
		opts = append(opts, logger.WithQuiet(), logger.WithWriter(w))
	}
	ctx = logger.WithLogger(ctx, logger.NewLogger(opts...))

	for _, w := range cfg.Warnings {
		logger.Warn(ctx, w)
	}
	if cfg.ConfigFileUsed != "" {
		logger.Debug(ctx, "Configuration loaded", tag.File(cfg.ConfigFileUsed))
	}

	return &Context{
		Context:    ctx,
		Command:    cmd,
		Flags:      flags,
		Config:     cfg,
		Quiet:      quiet,
		flagValues: v,
	}, nil
}

// BoolFlag returns the value of a boolean flag.
func (c *Context) BoolFlag(name string) bool {
	return c.flagValues.GetBool(name)
}

// StringFlag returns the value of a string flag.
func (c *Context) StringFlag(name string) string {
	return c.flagValues.GetString(name)
}

// Store builds the object store named in the configuration.
func (c *Context) Store() (blob.Store, error) {
	store, err := storage.New(c.Context, c.Config.Store.Type, c.Config.Store.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s store: %w", c.Config.Store.Type, err)
	}
	return store, nil
}

// NewCommand wires runFunc into cmd with a Context built from the common
// flags and flags.
func NewCommand(cmd *cobra.Command, flags []commandLineFlag, runFunc func(cmd *Context, args []string) error) *cobra.Command {
	initFlags(cmd, flags...)
	cmd.SilenceUsage = true

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, err := NewContext(cmd, flags)
		if err != nil {
			return fmt.Errorf("initialization error: %w", err)
		}
		if err := runFunc(ctx, args); err != nil {
			logger.Error(ctx.Context, "Command failed", tag.Error(err))
			return err
		}
		return nil
	}

	return cmd
}
