package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ConfigLoader reads and merges configuration from the config file, an
// optional dotenv file and the environment.
type ConfigLoader struct {
	v          *viper.Viper
	configFile string
	envFile    string
	configDirs []string
	warnings   []string
}

// ConfigLoaderOption defines a functional option for configuring a ConfigLoader.
type ConfigLoaderOption func(*ConfigLoader)

// WithConfigFile returns a ConfigLoaderOption that sets the configuration file path.
func WithConfigFile(configFile string) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.configFile = configFile
	}
}

// WithEnvFile loads a dotenv file into the process environment before the
// environment is read. Values from the file override existing variables.
func WithEnvFile(envFile string) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.envFile = envFile
	}
}

// WithConfigDirs replaces the directories searched for config.yaml when no
// config file is given.
func WithConfigDirs(dirs ...string) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.configDirs = dirs
	}
}

// NewConfigLoader creates a ConfigLoader with the given viper instance and options.
func NewConfigLoader(v *viper.Viper, options ...ConfigLoaderOption) *ConfigLoader {
	loader := &ConfigLoader{
		v:          v,
		configDirs: []string{filepath.Join(xdg.ConfigHome, AppSlug), "."},
	}
	for _, opt := range options {
		opt(loader)
	}
	return loader
}

// Load reads configuration files, applies defaults and environment overrides,
// and returns a validated Config instance.
func (l *ConfigLoader) Load() (*Config, error) {
	if l.envFile != "" {
		if err := godotenv.Overload(l.envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %q: %w", l.envFile, err)
		}
	}

	l.configureViper()
	l.bindEnvironmentVariables()
	l.setViperDefaultValues()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var def Definition
	if err := l.v.Unmarshal(&def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg, err := l.buildConfig(def)
	if err != nil {
		return nil, fmt.Errorf("failed to build config: %w", err)
	}

	if used := l.v.ConfigFileUsed(); used != "" {
		if abs, err := filepath.Abs(used); err == nil {
			used = abs
		}
		if _, err := os.Stat(used); err == nil {
			cfg.ConfigFileUsed = used
		}
	}
	cfg.Warnings = l.warnings

	return cfg, nil
}

// buildConfig transforms the Definition into a validated Config.
func (l *ConfigLoader) buildConfig(def Definition) (*Config, error) {
	cfg := Config{
		Core: Core{
			Debug:     def.Debug,
			LogFormat: strings.ToLower(def.LogFormat),
			TZ:        def.TZ,
		},
		Store: Store{
			Type:    strings.ToLower(strings.TrimSpace(def.Store.Type)),
			Options: def.Store.Options,
		},
		Containers:  trimAll(def.Containers),
		WatchConfig: def.WatchConfig,
		Health:      Health{Port: def.Health.Port},
	}

	if err := setTimezone(&cfg.Core); err != nil {
		return nil, err
	}

	cfg.Poll = Poll{
		Schedule: def.Poll.Schedule,
		FailureBackoff: Backoff{
			Initial: l.parseDuration("poll.failure_backoff.initial", def.Poll.FailureBackoff.Initial, defaultBackoffInitial),
			Max:     l.parseDuration("poll.failure_backoff.max", def.Poll.FailureBackoff.Max, defaultBackoffMax),
		},
	}

	cfg.Dispatch = Dispatch{
		Workers:       def.Dispatch.Workers,
		QueueSize:     def.Dispatch.QueueSize,
		MaxRetries:    def.Dispatch.MaxRetries,
		RetryInterval: l.parseDuration("dispatch.retry_interval", def.Dispatch.RetryInterval, defaultRetryInterval),
	}

	functions, err := l.loadFunctions(def)
	if err != nil {
		return nil, err
	}
	cfg.Functions = functions

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *ConfigLoader) loadFunctions(def Definition) ([]Function, error) {
	functions := make([]Function, 0, len(def.Functions))
	for _, fd := range def.Functions {
		if def.FunctionDefaults != nil {
			if err := mergo.Merge(&fd, *def.FunctionDefaults); err != nil {
				return nil, fmt.Errorf("failed to apply function defaults to %q: %w", fd.Name, err)
			}
		}
		executor := strings.ToLower(strings.TrimSpace(fd.Executor))
		if executor == "" {
			executor = ExecutorLog
		}
		functions = append(functions, Function{
			Name:      fd.Name,
			Container: strings.TrimSpace(fd.Container),
			Prefix:    fd.Prefix,
			Pattern:   fd.Pattern,
			Filter:    fd.Filter,
			Executor:  executor,
			Command:   fd.Command,
			Dir:       fd.Dir,
			Env:       upperKeys(fd.Env),
			URL:       fd.URL,
			Headers:   fd.Headers,
			Timeout:   l.parseDuration(fmt.Sprintf("functions.%s.timeout", fd.Name), fd.Timeout, 0),
		})
	}
	return functions, nil
}

// parseDuration parses a duration string, returning fallback and adding a
// warning if invalid.
func (l *ConfigLoader) parseDuration(fieldName, value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		l.warnings = append(l.warnings, fmt.Sprintf("Invalid %s value: %s", fieldName, value))
		return fallback
	}
	return duration
}

const (
	defaultSchedule       = "@every 30s"
	defaultBackoffInitial = 5 * time.Second
	defaultBackoffMax     = 5 * time.Minute
	defaultRetryInterval  = 2 * time.Second
)

func (l *ConfigLoader) setViperDefaultValues() {
	// Core
	l.v.SetDefault("debug", false)
	l.v.SetDefault("log_format", "text")
	l.v.SetDefault("tz", "")

	// Store
	l.v.SetDefault("store.type", "local")
	l.v.SetDefault("store.root", filepath.Join(xdg.DataHome, AppSlug, "containers"))

	// Poll
	l.v.SetDefault("poll.schedule", defaultSchedule)
	l.v.SetDefault("poll.failure_backoff.initial", defaultBackoffInitial.String())
	l.v.SetDefault("poll.failure_backoff.max", defaultBackoffMax.String())

	// Dispatch
	l.v.SetDefault("dispatch.workers", 4)
	l.v.SetDefault("dispatch.queue_size", 100)
	l.v.SetDefault("dispatch.max_retries", 3)
	l.v.SetDefault("dispatch.retry_interval", defaultRetryInterval.String())

	// Health
	l.v.SetDefault("health.port", 0)

	l.v.SetDefault("watch_config", false)
}

type envBinding struct {
	key string
	env string
}

var envBindings = []envBinding{
	{key: "debug", env: "DEBUG"},
	{key: "log_format", env: "LOG_FORMAT"},
	{key: "tz", env: "TZ"},

	{key: "store.type", env: "STORE_TYPE"},
	{key: "containers", env: "CONTAINERS"},

	{key: "poll.schedule", env: "POLL_SCHEDULE"},
	{key: "poll.failure_backoff.initial", env: "POLL_FAILURE_BACKOFF_INITIAL"},
	{key: "poll.failure_backoff.max", env: "POLL_FAILURE_BACKOFF_MAX"},

	{key: "dispatch.workers", env: "DISPATCH_WORKERS"},
	{key: "dispatch.queue_size", env: "DISPATCH_QUEUE_SIZE"},
	{key: "dispatch.max_retries", env: "DISPATCH_MAX_RETRIES"},
	{key: "dispatch.retry_interval", env: "DISPATCH_RETRY_INTERVAL"},

	{key: "health.port", env: "HEALTH_PORT"},
	{key: "watch_config", env: "WATCH_CONFIG"},
}

func (l *ConfigLoader) bindEnvironmentVariables() {
	prefix := strings.ToUpper(AppSlug) + "_"
	for _, b := range envBindings {
		_ = l.v.BindEnv(b.key, prefix+b.env)
	}
}

func (l *ConfigLoader) configureViper() {
	if l.configFile == "" {
		for _, dir := range l.configDirs {
			l.v.AddConfigPath(dir)
		}
		l.v.SetConfigName("config")
	} else {
		l.v.SetConfigFile(l.configFile)
	}
	l.v.SetConfigType("yaml")
	l.v.SetEnvPrefix(strings.ToUpper(AppSlug))
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	l.v.AutomaticEnv()
}

// upperKeys restores the conventional case of environment variable names,
// which viper lowercases.
func upperKeys(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToUpper(k)] = v
	}
	return out
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
