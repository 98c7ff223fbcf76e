package config

import (
	"fmt"
	"os"
	"time"

	"github.com/me/smpsched/pkg/model"
	"gopkg.in/yaml.v3"
)

// SchedulerConfig holds the fixed parameters of one scheduler instance.
type SchedulerConfig struct {
	Cores          int           `yaml:"cores"`           // Number of cores (must be > 0)
	AccountingCore int           `yaml:"accounting_core"` // Core whose ticks drive rotation bookkeeping
	MinPriority    int           `yaml:"min_priority"`    // Lowest valid priority (inclusive)
	MaxPriority    int           `yaml:"max_priority"`    // Highest valid priority (inclusive)
	Quantum        time.Duration `yaml:"quantum"`         // Tick period used by the tick-source loop
	SkipInvariants bool          `yaml:"skip_invariants"` // Disable the post-event consistency check
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Cores:          4,
		AccountingCore: 0,
		MinPriority:    0,
		MaxPriority:    31,
		Quantum:        10 * time.Millisecond,
	}
}

// Validate returns a ConfigurationError describing the first invalid field.
func (c SchedulerConfig) Validate() error {
	if c.Cores <= 0 {
		return model.NewConfigurationError("cores must be > 0, got %d", c.Cores)
	}
	if c.AccountingCore < 0 || c.AccountingCore >= c.Cores {
		return model.NewConfigurationError("accounting core %d out of range [0, %d)", c.AccountingCore, c.Cores)
	}
	if c.MinPriority > c.MaxPriority {
		return model.NewConfigurationError("empty priority range [%d, %d]", c.MinPriority, c.MaxPriority)
	}
	if c.Quantum < 0 {
		return model.NewConfigurationError("quantum must not be negative, got %s", c.Quantum)
	}
	return nil
}

// CheckPriority returns a ConfigurationError if p is outside the configured range.
func (c SchedulerConfig) CheckPriority(p int) error {
	if p < c.MinPriority || p > c.MaxPriority {
		return model.NewConfigurationError("priority %d out of range [%d, %d]", p, c.MinPriority, c.MaxPriority)
	}
	return nil
}

// Levels returns the number of priority levels.
func (c SchedulerConfig) Levels() int {
	return c.MaxPriority - c.MinPriority + 1
}

// ServerConfig holds configuration for the smpsched control-plane server.
type ServerConfig struct {
	Addr      string          `yaml:"addr"`       // Listen address (default ":8080")
	LogLevel  string          `yaml:"log_level"`  // Log level: debug, info, warn, error
	LogFormat string          `yaml:"log_format"` // Log format: text, json
	DBPath    string          `yaml:"db"`         // SQLite trace database ("" disables tracing, ":memory:" for testing)
	AutoTick  bool            `yaml:"auto_tick"`  // Drive ticks from a timer at Scheduler.Quantum
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
		Scheduler: DefaultSchedulerConfig(),
	}
}

// LoadServerConfig reads a YAML file on top of DefaultServerConfig.
// Fields absent from the file keep their defaults.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Scheduler.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
