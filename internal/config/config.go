// Package config loads gate configuration from .gate/config.yaml with
// environment variable overrides. A missing config file yields defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all gate configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Engine   EngineConfig   `yaml:"engine"`
	Verify   VerifyConfig   `yaml:"verify"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Store    StoreConfig    `yaml:"store"`
	Watch    WatchConfig    `yaml:"watch"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// EngineConfig bounds the gap-closure loop.
type EngineConfig struct {
	MaxIterations    int  `yaml:"max_iterations"`
	StopOnNoProgress bool `yaml:"stop_on_no_progress"`
}

// VerifyConfig configures how truth test patterns are executed.
// TestCommand must contain a {pattern} placeholder.
type VerifyConfig struct {
	TestCommand    string `yaml:"test_command"`
	ResultPattern  string `yaml:"result_pattern"`
	NoTestsPattern string `yaml:"no_tests_pattern"`
	CountsPattern  string `yaml:"counts_pattern"`
	Timeout        string `yaml:"timeout"`
}

// ScheduleConfig configures wave execution.
type ScheduleConfig struct {
	TaskTimeout  string `yaml:"task_timeout"`
	CheckTimeout string `yaml:"check_timeout"`
	ChecksPath   string `yaml:"checks_path"`
}

// StoreConfig configures run history persistence.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// WatchConfig configures the filesystem drift watcher.
type WatchConfig struct {
	DebounceMS int      `yaml:"debounce_ms"`
	Ignore     []string `yaml:"ignore"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "gate",
		Version: "1.0.0",

		Engine: EngineConfig{
			MaxIterations:    3,
			StopOnNoProgress: true,
		},

		Verify: VerifyConfig{
			TestCommand:    `go test -run '{pattern}' ./...`,
			ResultPattern:  `^(?:ok|FAIL)[ \t].*`,
			NoTestsPattern: `\[no tests to run\]`,
			Timeout:        "5m",
		},

		Schedule: ScheduleConfig{
			TaskTimeout:  "10m",
			CheckTimeout: "5m",
			ChecksPath:   filepath.Join(".gate", "checks.yaml"),
		},

		Store: StoreConfig{
			DatabasePath: filepath.Join(".gate", "gate.db"),
		},

		Watch: WatchConfig{
			DebounceMS: 500,
			Ignore:     []string{".git", ".gate", "node_modules", "vendor"},
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the conventional config location inside a workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, ".gate", "config.yaml")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if cmd := os.Getenv("GATE_TEST_COMMAND"); cmd != "" {
		c.Verify.TestCommand = cmd
	}
	if path := os.Getenv("GATE_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if raw := os.Getenv("GATE_MAX_ITERATIONS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			c.Engine.MaxIterations = n
		}
	}
	if os.Getenv("GATE_DEBUG") == "1" {
		c.Logging.DebugMode = true
	}
}

// Validate checks invariants that would otherwise surface mid-run.
func (c *Config) Validate() error {
	if c.Engine.MaxIterations < 1 {
		return fmt.Errorf("engine.max_iterations must be >= 1, got %d", c.Engine.MaxIterations)
	}
	if c.Verify.TestCommand == "" {
		return fmt.Errorf("verify.test_command is required")
	}
	return nil
}

// GetVerifyTimeout returns the test execution timeout as a duration.
func (c *Config) GetVerifyTimeout() time.Duration {
	d, err := time.ParseDuration(c.Verify.Timeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// GetTaskTimeout returns the default per-task timeout as a duration.
func (c *Config) GetTaskTimeout() time.Duration {
	d, err := time.ParseDuration(c.Schedule.TaskTimeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// GetCheckTimeout returns the default per-check timeout as a duration.
func (c *Config) GetCheckTimeout() time.Duration {
	d, err := time.ParseDuration(c.Schedule.CheckTimeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// GetDebounce returns the watcher debounce interval.
func (c *Config) GetDebounce() time.Duration {
	if c.Watch.DebounceMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}
