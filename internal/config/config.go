// Package config loads and watches the mythicls configuration file.
//
// Configuration comes from three layers, later layers overriding earlier
// ones: built-in defaults, the mythicls.toml file, and MYTHICLS_*
// environment variables.
package config

import (
	"fmt"
	"time"
)

// Config is the complete mythicls configuration.
type Config struct {
	// Server describes how to reach the language server.
	Server ServerConfig `toml:"server"`

	// Trace is the protocol trace level: off, messages or verbose.
	Trace string `toml:"trace"`

	// Selector narrows which YAML files are handed to the server.
	Selector SelectorConfig `toml:"selector"`

	// Settings is passed verbatim to the server via
	// workspace/didChangeConfiguration.
	Settings map[string]any `toml:"settings"`

	// Log controls client-side logging.
	Log LogConfig `toml:"log"`
}

// ServerConfig describes the server endpoint. Command spawns a subprocess;
// TCPAddr or SocketPath connect to an already-running server instead.
type ServerConfig struct {
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`
	Dir     string            `toml:"dir"`

	TCPAddr    string `toml:"tcp_addr"`
	SocketPath string `toml:"socket_path"`

	// Durations are Go duration strings ("5s", "500ms").
	DialTimeout       string `toml:"dial_timeout"`
	InitializeTimeout string `toml:"initialize_timeout"`
	ShutdownTimeout   string `toml:"shutdown_timeout"`
}

// SelectorConfig holds optional doublestar patterns. With none, every
// .yaml/.yml file in the workspace is managed.
type SelectorConfig struct {
	Patterns []string `toml:"patterns"`
}

// LogConfig controls the client log output.
type LogConfig struct {
	// Level is a zerolog level name: trace, debug, info, warn, error.
	Level string `toml:"level"`

	// File, when set, appends logs there with rotation instead of stderr.
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Command:           "mythic-language-server",
			DialTimeout:       "5s",
			InitializeTimeout: "15s",
			ShutdownTimeout:   "5s",
		},
		Trace: "off",
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Validate checks fields the rest of the client cannot use as-is.
func (c *Config) Validate() error {
	switch c.Trace {
	case "", "off", "messages", "verbose":
	default:
		return fmt.Errorf("invalid trace level %q (want off, messages or verbose)", c.Trace)
	}

	for name, value := range map[string]string{
		"dial_timeout":       c.Server.DialTimeout,
		"initialize_timeout": c.Server.InitializeTimeout,
		"shutdown_timeout":   c.Server.ShutdownTimeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
	}

	if c.Server.Command == "" && c.Server.TCPAddr == "" && c.Server.SocketPath == "" {
		return fmt.Errorf("no server command or endpoint configured")
	}
	return nil
}

// DialTimeoutDuration returns the parsed dial timeout.
func (c *ServerConfig) DialTimeoutDuration() time.Duration {
	return parseDuration(c.DialTimeout, 5*time.Second)
}

// InitializeTimeoutDuration returns the parsed initialize timeout.
func (c *ServerConfig) InitializeTimeoutDuration() time.Duration {
	return parseDuration(c.InitializeTimeout, 15*time.Second)
}

// ShutdownTimeoutDuration returns the parsed shutdown timeout.
func (c *ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return parseDuration(c.ShutdownTimeout, 5*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
