package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/itchyny/gojq"
	"github.com/robfig/cron/v3"
)

// ErrConfig is wrapped by every validation failure.
var ErrConfig = errors.New("invalid configuration")

// Executor names accepted by functions.
const (
	ExecutorLog     = "log"
	ExecutorCommand = "command"
	ExecutorWebhook = "webhook"
)

// Config holds the overall configuration for the application.
type Config struct {
	Core        Core
	Store       Store
	Containers  []string
	Poll        Poll
	Dispatch    Dispatch
	Functions   []Function
	Health      Health
	WatchConfig bool

	// ConfigFileUsed is the absolute path of the config file that was read,
	// or empty when none was found.
	ConfigFileUsed string
	Warnings       []string
}

// Core holds process-wide settings.
type Core struct {
	Debug     bool
	LogFormat string
	TZ        string
	Location  *time.Location
}

// Store selects the object store backend.
type Store struct {
	Type    string
	Options map[string]any
}

// Poll configures the poll loop.
type Poll struct {
	Schedule       string
	FailureBackoff Backoff
}

// Backoff configures an exponential backoff between failed polls.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Dispatch configures the function dispatcher.
type Dispatch struct {
	Workers       int
	QueueSize     int
	MaxRetries    int
	RetryInterval time.Duration
}

// Function is a validated function declaration.
type Function struct {
	Name      string
	Container string
	Prefix    string
	Pattern   string
	Filter    string
	Executor  string
	Command   string
	Dir       string
	Env       map[string]string
	URL       string
	Headers   map[string]string
	Timeout   time.Duration
}

// Health configures the health server. Port 0 disables it.
type Health struct {
	Port int
}

// Validate performs basic validation on the configuration.
func (c *Config) Validate() error {
	if err := c.validateCore(); err != nil {
		return err
	}
	if err := c.validatePoll(); err != nil {
		return err
	}
	if err := c.validateDispatch(); err != nil {
		return err
	}
	if err := c.validateFunctions(); err != nil {
		return err
	}
	if c.Health.Port < 0 || c.Health.Port > 65535 {
		return fmt.Errorf("%w: invalid health port number: %d", ErrConfig, c.Health.Port)
	}
	return nil
}

func (c *Config) validateCore() error {
	switch c.Core.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: invalid log_format %q (must be one of: text, json)", ErrConfig, c.Core.LogFormat)
	}
	if c.Store.Type == "" {
		return fmt.Errorf("%w: store.type is required", ErrConfig)
	}
	for _, name := range c.Containers {
		if name == "" {
			return fmt.Errorf("%w: container names must not be empty", ErrConfig)
		}
	}
	return nil
}

func (c *Config) validatePoll() error {
	if _, err := cron.ParseStandard(c.Poll.Schedule); err != nil {
		return fmt.Errorf("%w: invalid poll.schedule %q: %v", ErrConfig, c.Poll.Schedule, err)
	}
	b := c.Poll.FailureBackoff
	if b.Initial <= 0 {
		return fmt.Errorf("%w: poll.failure_backoff.initial must be positive", ErrConfig)
	}
	if b.Max < b.Initial {
		return fmt.Errorf("%w: poll.failure_backoff.max must not be less than initial", ErrConfig)
	}
	return nil
}

func (c *Config) validateDispatch() error {
	if c.Dispatch.Workers < 1 {
		return fmt.Errorf("%w: dispatch.workers must be at least 1", ErrConfig)
	}
	if c.Dispatch.QueueSize < 1 {
		return fmt.Errorf("%w: dispatch.queue_size must be at least 1", ErrConfig)
	}
	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("%w: dispatch.max_retries must be >= 0", ErrConfig)
	}
	return nil
}

func (c *Config) validateFunctions() error {
	seen := make(map[string]bool, len(c.Functions))
	for i, fn := range c.Functions {
		if fn.Name == "" {
			return fmt.Errorf("%w: functions[%d]: name is required", ErrConfig, i)
		}
		if seen[fn.Name] {
			return fmt.Errorf("%w: duplicate function name %q", ErrConfig, fn.Name)
		}
		seen[fn.Name] = true

		if fn.Container == "" {
			return fmt.Errorf("%w: function %q: container is required", ErrConfig, fn.Name)
		}
		if fn.Pattern != "" && !doublestar.ValidatePattern(fn.Pattern) {
			return fmt.Errorf("%w: function %q: invalid pattern %q", ErrConfig, fn.Name, fn.Pattern)
		}
		if fn.Filter != "" {
			if _, err := gojq.Parse(fn.Filter); err != nil {
				return fmt.Errorf("%w: function %q: invalid filter: %v", ErrConfig, fn.Name, err)
			}
		}
		switch fn.Executor {
		case ExecutorLog:
		case ExecutorCommand:
			if fn.Command == "" {
				return fmt.Errorf("%w: function %q: command is required for the command executor", ErrConfig, fn.Name)
			}
		case ExecutorWebhook:
			if fn.URL == "" {
				return fmt.Errorf("%w: function %q: url is required for the webhook executor", ErrConfig, fn.Name)
			}
		default:
			return fmt.Errorf("%w: function %q: unknown executor %q (must be one of: log, command, webhook)",
				ErrConfig, fn.Name, fn.Executor)
		}
	}
	return nil
}

// TrackedContainers returns the configured containers followed by any
// container referenced only by a function, without duplicates.
func (c *Config) TrackedContainers() []string {
	var names []string
	for _, name := range c.Containers {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	for _, fn := range c.Functions {
		if !slices.Contains(names, fn.Container) {
			names = append(names, fn.Container)
		}
	}
	return names
}

// FunctionNames returns the function names in declaration order.
func (c *Config) FunctionNames() []string {
	names := make([]string, 0, len(c.Functions))
	for _, fn := range c.Functions {
		names = append(names, fn.Name)
	}
	return names
}
