// Package config provides engine configuration: bounds, timeouts, storage
// and listen settings. Values come from defaults, an optional YAML file,
// and environment overrides applied in cmd.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the engine configuration.
type Config struct {
	// HTTP listen address for the conversation API.
	HTTPAddr string `yaml:"http_addr" json:"http_addr"`

	// StorageDir is where generated documents (sanction letters, uploaded
	// salary slips) are written.
	StorageDir string `yaml:"storage_dir" json:"storage_dir"`

	// OTLPEndpoint enables trace export when non-empty.
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`

	// Execution Limits
	MaxToolRounds  int `yaml:"max_tool_rounds" json:"max_tool_rounds"`   // decide/execute round-trips per worker invocation
	MaxMasterTurns int `yaml:"max_master_turns" json:"max_master_turns"` // master graph steps per user turn

	// Timeouts (seconds)
	OracleTimeout int `yaml:"oracle_timeout" json:"oracle_timeout"`
	ToolTimeout   int `yaml:"tool_timeout" json:"tool_timeout"`
	TurnTimeout   int `yaml:"turn_timeout" json:"turn_timeout"` // end-to-end budget for one user turn

	// Logging
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:   ":8080",
		StorageDir: "storage",

		MaxToolRounds:  10,
		MaxMasterTurns: 20,

		OracleTimeout: 120,
		ToolTimeout:   30,
		TurnTimeout:   300,

		LogLevel: "INFO",
	}
}

// Load reads a YAML config file over defaults. An empty path skips the
// file and returns the defaults, so the server starts without a config.
func Load(path string) (*Config, error) {
	c := DefaultConfig()
	if path == "" {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the configuration for mistakes.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr must not be empty")
	}
	if c.StorageDir == "" {
		return fmt.Errorf("storage_dir must not be empty")
	}
	if c.MaxToolRounds <= 0 {
		return fmt.Errorf("max_tool_rounds must be positive, got %d", c.MaxToolRounds)
	}
	if c.MaxMasterTurns <= 0 {
		return fmt.Errorf("max_master_turns must be positive, got %d", c.MaxMasterTurns)
	}
	if c.OracleTimeout <= 0 {
		return fmt.Errorf("oracle_timeout must be positive, got %d", c.OracleTimeout)
	}
	if c.ToolTimeout <= 0 {
		return fmt.Errorf("tool_timeout must be positive, got %d", c.ToolTimeout)
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("turn_timeout must be positive, got %d", c.TurnTimeout)
	}
	return nil
}

// OracleTimeoutDuration returns the oracle timeout as a time.Duration.
func (c *Config) OracleTimeoutDuration() time.Duration {
	return time.Duration(c.OracleTimeout) * time.Second
}

// ToolTimeoutDuration returns the tool timeout as a time.Duration.
func (c *Config) ToolTimeoutDuration() time.Duration {
	return time.Duration(c.ToolTimeout) * time.Second
}

// TurnTimeoutDuration returns the per-turn budget as a time.Duration.
func (c *Config) TurnTimeoutDuration() time.Duration {
	return time.Duration(c.TurnTimeout) * time.Second
}
