// Package config loads and validates the debugger configuration: how to
// reach the remote agent, the stepping policy, and logging.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the full debugger configuration.
type Config struct {
	// Agent describes the connection to the remote agent.
	Agent AgentConfig `json:"agent"`

	// Stepping holds the stepping policy.
	Stepping SteppingConfig `json:"stepping"`

	// Logging holds log output settings.
	Logging LoggingConfig `json:"logging"`
}

// AgentConfig describes how to reach the remote agent.
type AgentConfig struct {
	// Mode is "socket" or "stdio".
	Mode string `json:"mode"`

	// Address is the host:port for socket mode.
	Address string `json:"address,omitempty"`

	// Command is the agent executable for stdio mode.
	Command string `json:"command,omitempty"`

	// Args are passed to the agent executable in stdio mode.
	Args []string `json:"args,omitempty"`
}

// SteppingConfig holds the stepping policy.
type SteppingConfig struct {
	// StepOverUnsymbolized steps out of functions with no line information
	// instead of stopping in them.
	StepOverUnsymbolized bool `json:"stepOverUnsymbolized"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `json:"level"`

	// Format is "text" or "json".
	Format string `json:"format"`
}

// Option overrides part of a loaded configuration.
type Option func(*Config)

// WithAgentAddress forces socket mode at the given address.
func WithAgentAddress(addr string) Option {
	return func(c *Config) {
		c.Agent.Mode = "socket"
		c.Agent.Address = addr
	}
}

// WithAgentCommand forces stdio mode with the given agent command.
func WithAgentCommand(command string, args ...string) Option {
	return func(c *Config) {
		c.Agent.Mode = "stdio"
		c.Agent.Command = command
		c.Agent.Args = args
	}
}

// WithLogLevel overrides the log level.
func WithLogLevel(level string) Option {
	return func(c *Config) {
		c.Logging.Level = level
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Mode:    "socket",
			Address: "localhost:4711",
		},
		Stepping: SteppingConfig{
			StepOverUnsymbolized: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a JSON configuration file over the defaults and applies the
// options on top. An empty path loads defaults only; a missing file at an
// explicit path is an error.
func Load(path string, opts ...Option) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	switch c.Agent.Mode {
	case "socket":
		if c.Agent.Address == "" {
			return fmt.Errorf("%w: socket mode requires an address", ErrInvalidConfig)
		}
	case "stdio":
		if c.Agent.Command == "" {
			return fmt.Errorf("%w: stdio mode requires a command", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown agent mode %q", ErrInvalidConfig, c.Agent.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.Logging.Level)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}
