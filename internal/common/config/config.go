// Package config provides configuration management for OpenBotGate.
// It supports loading configuration from a .env file, environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// MaxExecutionTimeout is the hard ceiling applied to every execution timeout,
// regardless of configuration.
const MaxExecutionTimeout = 3 * time.Minute

// DefaultAllowedCodeTools is the default allow-list of tool adapter names.
var DefaultAllowedCodeTools = []string{
	"opencode",
	"cursorcode",
	"claudecode",
	"codex",
	"qwencode",
	"kimicode",
	"openclaw",
	"nanobot",
}

// DefaultAllowedShellCommands is the default allow-list of shell command first words.
var DefaultAllowedShellCommands = []string{"git", "dir", "ls", "pwd"}

// Config holds all configuration sections for OpenBotGate.
type Config struct {
	Execution            ExecutionConfig   `mapstructure:"execution"`
	AllowedCodeTools     []string          `mapstructure:"allowedCodeTools"`
	AllowedShellCommands []string          `mapstructure:"allowedShellCommands"`
	Executables          map[string]string `mapstructure:"executables"`
	Tasks                TasksConfig       `mapstructure:"tasks"`
	Sessions             SessionsConfig    `mapstructure:"sessions"`
	Streaming            StreamingConfig   `mapstructure:"streaming"`
	NATS                 NATSConfig        `mapstructure:"nats"`
	Tracing              TracingConfig     `mapstructure:"tracing"`
	Logging              LoggingConfig     `mapstructure:"logging"`
}

// ExecutionConfig holds subprocess execution settings. Durations are in milliseconds.
type ExecutionConfig struct {
	Timeout             int            `mapstructure:"timeout"`
	CodeTimeout         int            `mapstructure:"codeTimeout"` // 0 = use Timeout
	MaxOutputLength     int            `mapstructure:"maxOutputLength"`
	ShellOutputEncoding string         `mapstructure:"shellOutputEncoding"`
	KillGrace           int            `mapstructure:"killGrace"`
	HelperTimeout       int            `mapstructure:"helperTimeout"`
	ToolTimeouts        map[string]int `mapstructure:"toolTimeouts"` // per adapter name
}

// TasksConfig holds task manager limits.
type TasksConfig struct {
	MaxPerUser      int `mapstructure:"maxPerUser"`
	TimeoutSeconds  int `mapstructure:"timeoutSeconds"`
	CleanupInterval int `mapstructure:"cleanupInterval"` // in seconds
}

// SessionsConfig holds session store settings.
type SessionsConfig struct {
	FilePath     string `mapstructure:"filePath"`
	SaveDebounce int    `mapstructure:"saveDebounce"` // in milliseconds
}

// StreamingConfig holds reply streaming and result delivery settings.
type StreamingConfig struct {
	Throttle   int `mapstructure:"throttle"` // in milliseconds
	ChunkSize  int `mapstructure:"chunkSize"`
	ChunkDelay int `mapstructure:"chunkDelay"` // in milliseconds
}

// TracingConfig holds OpenTelemetry export configuration. An empty Endpoint
// disables tracing.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"serviceName"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sampleRatio"`
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
	MaxSizeMB  int    `mapstructure:"maxSizeMb"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAgeDays"`
}

// TimeoutDuration returns the default execution timeout.
func (e *ExecutionConfig) TimeoutDuration() time.Duration {
	return clampTimeout(e.Timeout)
}

// CodeTimeoutDuration returns the timeout for tool adapter runs, or zero when unset.
func (e *ExecutionConfig) CodeTimeoutDuration() time.Duration {
	if e.CodeTimeout <= 0 {
		return 0
	}
	return clampTimeout(e.CodeTimeout)
}

// ToolTimeoutDuration returns the per-tool override for name, or zero when unset.
func (e *ExecutionConfig) ToolTimeoutDuration(name string) time.Duration {
	ms, ok := e.ToolTimeouts[strings.ToLower(name)]
	if !ok || ms <= 0 {
		return 0
	}
	return clampTimeout(ms)
}

// KillGraceDuration returns the wait between SIGTERM and SIGKILL.
func (e *ExecutionConfig) KillGraceDuration() time.Duration {
	return time.Duration(e.KillGrace) * time.Millisecond
}

// HelperTimeoutDuration returns the timeout for helper invocations such as model listing.
func (e *ExecutionConfig) HelperTimeoutDuration() time.Duration {
	return clampTimeout(e.HelperTimeout)
}

// TimeoutDuration returns the absolute task timeout.
func (t *TasksConfig) TimeoutDuration() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// CleanupIntervalDuration returns the period of the task cleanup loop.
func (t *TasksConfig) CleanupIntervalDuration() time.Duration {
	return time.Duration(t.CleanupInterval) * time.Second
}

// SaveDebounceDuration returns the trailing debounce for session writes.
func (s *SessionsConfig) SaveDebounceDuration() time.Duration {
	return time.Duration(s.SaveDebounce) * time.Millisecond
}

// ThrottleDuration returns the stream flush window.
func (s *StreamingConfig) ThrottleDuration() time.Duration {
	return time.Duration(s.Throttle) * time.Millisecond
}

// ChunkDelayDuration returns the pause between result chunks.
func (s *StreamingConfig) ChunkDelayDuration() time.Duration {
	return time.Duration(s.ChunkDelay) * time.Millisecond
}

// IsCodeToolAllowed reports whether the adapter name is in the allow-list.
func (c *Config) IsCodeToolAllowed(name string) bool {
	return contains(c.AllowedCodeTools, name)
}

// IsShellCommandAllowed reports whether the shell command first word is in the allow-list.
func (c *Config) IsShellCommandAllowed(name string) bool {
	return contains(c.AllowedShellCommands, name)
}

// Executable returns the configured binary for any of the given names, or fallback.
func (c *Config) Executable(fallback string, names ...string) string {
	for _, name := range names {
		if exe, ok := c.Executables[strings.ToLower(name)]; ok && strings.TrimSpace(exe) != "" {
			return strings.TrimSpace(exe)
		}
	}
	return fallback
}

func contains(list []string, name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, item := range list {
		if item == name {
			return true
		}
	}
	return false
}

// clampTimeout converts milliseconds to a duration capped at MaxExecutionTimeout.
func clampTimeout(ms int) time.Duration {
	d := time.Duration(ms) * time.Millisecond
	if d > MaxExecutionTimeout {
		return MaxExecutionTimeout
	}
	return d
}

// detectDefaultLogFormat returns "json" for production deployments and "text" otherwise.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("OPENBOTGATE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Execution defaults (milliseconds)
	v.SetDefault("execution.timeout", 120000)
	v.SetDefault("execution.codeTimeout", 0)
	v.SetDefault("execution.maxOutputLength", 10000)
	v.SetDefault("execution.shellOutputEncoding", "")
	v.SetDefault("execution.killGrace", 5000)
	v.SetDefault("execution.helperTimeout", 30000)
	v.SetDefault("execution.toolTimeouts", map[string]int{})

	v.SetDefault("allowedCodeTools", DefaultAllowedCodeTools)
	v.SetDefault("allowedShellCommands", DefaultAllowedShellCommands)
	v.SetDefault("executables", map[string]string{})

	// Task defaults
	v.SetDefault("tasks.maxPerUser", 10)
	v.SetDefault("tasks.timeoutSeconds", 300)
	v.SetDefault("tasks.cleanupInterval", 60)

	// Session defaults
	v.SetDefault("sessions.filePath", "data/sessions.json")
	v.SetDefault("sessions.saveDebounce", 500)

	// Streaming defaults
	v.SetDefault("streaming.throttle", 1000)
	v.SetDefault("streaming.chunkSize", 8000)
	v.SetDefault("streaming.chunkDelay", 500)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "openbotgate")
	v.SetDefault("nats.maxReconnects", 10)

	// Tracing defaults - empty endpoint keeps the no-op tracer
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.serviceName", "openbotgate")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sampleRatio", 1.0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
	v.SetDefault("logging.maxSizeMb", 50)
	v.SetDefault("logging.maxBackups", 3)
	v.SetDefault("logging.maxAgeDays", 14)
}

// Load reads configuration from .env, environment variables, config file, and defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OPENBOTGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Plain env names used by existing deployments.
	_ = v.BindEnv("execution.timeout", "EXECUTION_TIMEOUT", "OPENBOTGATE_EXECUTION_TIMEOUT")
	_ = v.BindEnv("execution.codeTimeout", "CODE_TIMEOUT", "OPENBOTGATE_EXECUTION_CODE_TIMEOUT")
	_ = v.BindEnv("execution.maxOutputLength", "MAX_OUTPUT_LENGTH", "OPENBOTGATE_EXECUTION_MAX_OUTPUT_LENGTH")
	_ = v.BindEnv("execution.shellOutputEncoding", "SHELL_OUTPUT_ENCODING")
	_ = v.BindEnv("allowedCodeTools", "ALLOWED_CODE_TOOLS", "OPENBOTGATE_ALLOWED_CODE_TOOLS")
	_ = v.BindEnv("allowedShellCommands", "ALLOWED_SHELL_COMMANDS", "OPENBOTGATE_ALLOWED_SHELL_COMMANDS")
	_ = v.BindEnv("sessions.filePath", "SESSIONS_FILE", "OPENBOTGATE_SESSIONS_FILE_PATH")
	_ = v.BindEnv("nats.url", "NATS_URL", "OPENBOTGATE_NATS_URL")
	_ = v.BindEnv("logging.level", "LOG_LEVEL", "OPENBOTGATE_LOGGING_LEVEL")
	_ = v.BindEnv("tracing.endpoint", "OPENBOTGATE_TRACING_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = v.BindEnv("tracing.serviceName", "OPENBOTGATE_TRACING_SERVICE_NAME", "OTEL_SERVICE_NAME")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/openbotgate/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Comma-separated env values arrive as a single element.
	cfg.AllowedCodeTools = normalizeList(v.GetStringSlice("allowedCodeTools"))
	cfg.AllowedShellCommands = normalizeList(v.GetStringSlice("allowedShellCommands"))

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// normalizeList splits comma-separated entries, trims and lower-cases them, and drops empties.
func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// validate checks the configuration and normalizes derived fields.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Execution.Timeout <= 0 {
		errs = append(errs, "execution.timeout must be positive")
	}
	if cfg.Execution.CodeTimeout < 0 {
		errs = append(errs, "execution.codeTimeout must not be negative")
	}
	if cfg.Execution.MaxOutputLength <= 0 {
		errs = append(errs, "execution.maxOutputLength must be positive")
	}
	if cfg.Execution.KillGrace < 0 {
		errs = append(errs, "execution.killGrace must not be negative")
	}
	if cfg.Execution.HelperTimeout <= 0 {
		errs = append(errs, "execution.helperTimeout must be positive")
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, "tracing.sampleRatio must be between 0 and 1")
	}
	cfg.Execution.ShellOutputEncoding = strings.ToLower(strings.TrimSpace(cfg.Execution.ShellOutputEncoding))

	lowered := make(map[string]int, len(cfg.Execution.ToolTimeouts))
	for name, ms := range cfg.Execution.ToolTimeouts {
		lowered[strings.ToLower(name)] = ms
	}
	cfg.Execution.ToolTimeouts = lowered

	exes := make(map[string]string, len(cfg.Executables))
	for name, path := range cfg.Executables {
		exes[strings.ToLower(name)] = path
	}
	cfg.Executables = exes

	if cfg.Tasks.MaxPerUser <= 0 {
		errs = append(errs, "tasks.maxPerUser must be positive")
	}
	if cfg.Tasks.TimeoutSeconds <= 0 {
		errs = append(errs, "tasks.timeoutSeconds must be positive")
	}
	if cfg.Tasks.CleanupInterval <= 0 {
		errs = append(errs, "tasks.cleanupInterval must be positive")
	}

	if strings.TrimSpace(cfg.Sessions.FilePath) == "" {
		errs = append(errs, "sessions.filePath is required")
	}
	if cfg.Sessions.SaveDebounce < 0 {
		errs = append(errs, "sessions.saveDebounce must not be negative")
	}

	if cfg.Streaming.Throttle < 0 {
		errs = append(errs, "streaming.throttle must not be negative")
	}
	if cfg.Streaming.ChunkSize <= 0 {
		errs = append(errs, "streaming.chunkSize must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
