package config

import "time"

// Config is the top-level configuration for toolctl.
type Config struct {
	// LogLevel filters log output: debug, info, warn, error.
	LogLevel string `yaml:"logLevel,omitempty"`

	// StateFile overrides the default persisted-state location.
	StateFile string `yaml:"stateFile,omitempty"`

	// Aggregate configures the aggregated MCP endpoint of `toolctl serve`.
	Aggregate AggregateConfig `yaml:"aggregate,omitempty"`

	// Servers are the tool servers toolctl knows how to launch.
	Servers []ToolServerDefinition `yaml:"servers,omitempty"`
}

// ToolServerDefinition describes how to start one tool server.
type ToolServerDefinition struct {
	// Name is the unique server name. It becomes the qualifier prefix of
	// every tool the server exposes, so it must not contain a dot.
	Name string `yaml:"name"`

	// Command is the executable and its arguments. The allocated bind
	// port is appended as the final argument at launch time.
	Command []string `yaml:"command"`

	// Env is extra environment for the child process, layered over the
	// orchestrator's own environment.
	Env map[string]string `yaml:"env,omitempty"`

	// Enabled controls whether this server is launched by default.
	Enabled bool `yaml:"enabledByDefault"`

	// CallTimeout bounds each control-channel call to this server.
	// Zero means the built-in default.
	CallTimeout time.Duration `yaml:"callTimeout,omitempty"`
}

// AggregateConfig configures the MCP endpoint that exposes the aggregated
// catalog to a calling agent.
type AggregateConfig struct {
	Host string `yaml:"host,omitempty"` // default: localhost
	Port int    `yaml:"port,omitempty"` // default: 8080
}

// DefaultConfig returns the built-in configuration before any file is
// layered on top.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Aggregate: AggregateConfig{
			Host: "localhost",
			Port: 8080,
		},
	}
}
