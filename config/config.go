// Package config holds Shepherd's configuration: which assistant CLI to
// supervise, session tuning knobs (timeouts, buffer sizing, prompt
// patterns), and adapter settings.
//
// Configuration is read from config.yaml in the config directory (see the
// paths package), then overridden by SHEPHERD_* environment variables. A
// missing file is not an error — defaults apply.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zhubert/shepherd/paths"
)

// DefaultPromptPatterns are the built-in markers of an interactive prompt.
// They are deliberately loose: a spurious waiting-for-input report is
// recoverable (the caller can ignore it), a missed prompt is not.
var DefaultPromptPatterns = []string{
	`\[y/n\]`,
	`\(y/N\)`,
	`(?i)continue\?`,
	`(?i)press enter`,
	`(?i)^enter .*:`,
	`^\s*\d+[.)]\s`,
}

// HTTPConfig holds the HTTP adapter's listen settings.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Config holds the application configuration.
type Config struct {
	// Command is the assistant CLI executable to supervise.
	Command string `yaml:"command"`
	// SessionArgs are per-session arguments appended to Command; the literal
	// "{id}" is replaced with the session ID so orphaned processes can be
	// matched back to sessions.
	SessionArgs []string `yaml:"session_args"`
	// DefaultWorkingDir is used when a create request names no directory.
	// Empty means the supervisor process's working directory.
	DefaultWorkingDir string `yaml:"default_working_dir"`

	SpawnTimeoutSeconds int `yaml:"spawn_timeout_seconds"`
	GracePeriodSeconds  int `yaml:"grace_period_seconds"`

	BufferCapacity int `yaml:"buffer_capacity"`
	TruncateWidth  int `yaml:"truncate_width"`

	QuiescenceMS   int      `yaml:"quiescence_ms"`
	PromptPatterns []string `yaml:"prompt_patterns"`

	HTTP HTTPConfig `yaml:"http"`

	LogLevel string `yaml:"log_level"` // "debug" or "info"
	LogPath  string `yaml:"log_path"`  // empty means the default under the state dir
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Command:             "claude",
		SessionArgs:         []string{"--session-id", "{id}"},
		SpawnTimeoutSeconds: 10,
		GracePeriodSeconds:  5,
		BufferCapacity:      1000,
		TruncateWidth:       80,
		QuiescenceMS:        400,
		PromptPatterns:      append([]string(nil), DefaultPromptPatterns...),
		HTTP: HTTPConfig{
			Host: "127.0.0.1",
			Port: 8484,
		},
		LogLevel: "info",
	}
}

// Load reads the config from the default location, applies environment
// overrides, and validates. A missing file yields the defaults.
func Load() (*Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads the config from an explicit path, applies environment
// overrides, and validates.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from SHEPHERD_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("SHEPHERD_COMMAND"); v != "" {
		c.Command = v
	}
	if v := os.Getenv("SHEPHERD_DEFAULT_WORKING_DIR"); v != "" {
		c.DefaultWorkingDir = v
	}
	if v := os.Getenv("SHEPHERD_HTTP_HOST"); v != "" {
		c.HTTP.Host = v
	}
	if v := os.Getenv("SHEPHERD_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = port
		}
	}
	if v := os.Getenv("SHEPHERD_SPAWN_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SpawnTimeoutSeconds = n
		}
	}
	if v := os.Getenv("SHEPHERD_GRACE_PERIOD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.GracePeriodSeconds = n
		}
	}
	if v := os.Getenv("SHEPHERD_BUFFER_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BufferCapacity = n
		}
	}
	if v := os.Getenv("SHEPHERD_LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Command == "" {
		return fmt.Errorf("command must not be empty")
	}
	if c.SpawnTimeoutSeconds <= 0 {
		return fmt.Errorf("spawn_timeout_seconds must be positive, got %d", c.SpawnTimeoutSeconds)
	}
	if c.GracePeriodSeconds <= 0 {
		return fmt.Errorf("grace_period_seconds must be positive, got %d", c.GracePeriodSeconds)
	}
	if c.BufferCapacity <= 0 {
		return fmt.Errorf("buffer_capacity must be positive, got %d", c.BufferCapacity)
	}
	if c.TruncateWidth < 16 {
		return fmt.Errorf("truncate_width must be at least 16, got %d", c.TruncateWidth)
	}
	if c.QuiescenceMS <= 0 {
		return fmt.Errorf("quiescence_ms must be positive, got %d", c.QuiescenceMS)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port out of range: %d", c.HTTP.Port)
	}
	for _, p := range c.PromptPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid prompt pattern %q: %w", p, err)
		}
	}
	switch c.LogLevel {
	case "debug", "info":
	default:
		return fmt.Errorf("log_level must be debug or info, got %q", c.LogLevel)
	}
	return nil
}

// SpawnTimeout returns the spawn timeout as a duration.
func (c *Config) SpawnTimeout() time.Duration {
	return time.Duration(c.SpawnTimeoutSeconds) * time.Second
}

// GracePeriod returns the termination grace period as a duration.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// QuiescenceWindow returns the prompt-detection quiet interval as a duration.
func (c *Config) QuiescenceWindow() time.Duration {
	return time.Duration(c.QuiescenceMS) * time.Millisecond
}

// HTTPAddr returns the host:port the HTTP adapter listens on.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// CommandArgs returns the per-session arguments for Command with the
// session ID substituted for "{id}".
func (c *Config) CommandArgs(sessionID string) []string {
	args := make([]string, len(c.SessionArgs))
	for i, a := range c.SessionArgs {
		args[i] = strings.ReplaceAll(a, "{id}", sessionID)
	}
	return args
}

// Save writes the config back to the default location. Used by setup
// tooling; the supervisor itself never mutates configuration at runtime.
func (c *Config) Save() error {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
