package config

// Definition is the raw configuration as read from the config file and the
// environment. Each field maps to a configuration key.
type Definition struct {
	// Debug enables debug logging.
	Debug bool `mapstructure:"debug"`

	// LogFormat is "text" or "json".
	LogFormat string `mapstructure:"log_format"`

	// TZ is the timezone the poll schedule is evaluated in.
	TZ string `mapstructure:"tz"`

	// Store selects and configures the object store backend.
	Store StoreDef `mapstructure:"store"`

	// Containers lists the containers to track.
	Containers []string `mapstructure:"containers"`

	Poll     PollDef     `mapstructure:"poll"`
	Dispatch DispatchDef `mapstructure:"dispatch"`

	// FunctionDefaults is merged into every entry of Functions.
	FunctionDefaults *FunctionDef  `mapstructure:"function_defaults"`
	Functions        []FunctionDef `mapstructure:"functions"`

	Health HealthDef `mapstructure:"health"`

	// WatchConfig reloads the container list when the config file changes.
	WatchConfig bool `mapstructure:"watch_config"`
}

// StoreDef holds the store type and its backend-specific options. Options
// other than type are passed to the backend untouched.
type StoreDef struct {
	Type    string         `mapstructure:"type"`
	Options map[string]any `mapstructure:",remain"`
}

// PollDef configures the poll loop.
type PollDef struct {
	// Schedule is a cron expression or descriptor such as "@every 30s".
	Schedule       string     `mapstructure:"schedule"`
	FailureBackoff BackoffDef `mapstructure:"failure_backoff"`
}

// BackoffDef configures an exponential backoff.
type BackoffDef struct {
	Initial string `mapstructure:"initial"`
	Max     string `mapstructure:"max"`
}

// DispatchDef configures the function dispatcher.
type DispatchDef struct {
	Workers       int    `mapstructure:"workers"`
	QueueSize     int    `mapstructure:"queue_size"`
	MaxRetries    int    `mapstructure:"max_retries"`
	RetryInterval string `mapstructure:"retry_interval"`
}

// FunctionDef declares a function triggered by objects of a container.
type FunctionDef struct {
	Name      string            `mapstructure:"name"`
	Container string            `mapstructure:"container"`
	Prefix    string            `mapstructure:"prefix"`
	Pattern   string            `mapstructure:"pattern"`
	Filter    string            `mapstructure:"filter"`
	Executor  string            `mapstructure:"executor"`
	Command   string            `mapstructure:"command"`
	Dir       string            `mapstructure:"dir"`
	Env       map[string]string `mapstructure:"env"`
	URL       string            `mapstructure:"url"`
	Headers   map[string]string `mapstructure:"headers"`
	Timeout   string            `mapstructure:"timeout"`
}

// HealthDef configures the health and metrics server.
type HealthDef struct {
	Port int `mapstructure:"port"`
}
