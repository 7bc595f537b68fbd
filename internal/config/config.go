// Package config provides configuration management for the dbg-mcp server.
//
// Configuration controls:
//   - Backend settings: path and extra arguments for the LLDB and GDB executables
//   - Timeouts: per-command soft timeout, hard kill deadline, idle session expiry
//   - Safety limits: maximum concurrent sessions, binary allowlist, expression length
//   - Response shaping defaults: verbosity and focus areas
//   - Logging: level and debugger wire logging
//
// Configuration can be loaded from a JSON or YAML file or use sensible defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from a Go duration string ("30s")
// or a number of nanoseconds.
type Duration time.Duration

// D returns the value as a time.Duration
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON encodes the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts "1m30s" or a plain integer
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		return d.parse(val)
	case float64:
		*d = Duration(int64(val))
		return nil
	}
	return fmt.Errorf("invalid duration: %s", string(data))
}

// MarshalYAML encodes the duration as a string
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML accepts "1m30s" or a plain integer
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	if node.Tag == "!!int" {
		var n int64
		if err := node.Decode(&n); err != nil {
			return err
		}
		*d = Duration(n)
		return nil
	}
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	if s == "" || s == "0" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Verbosity levels for tool responses
const (
	VerbosityMinimal       = "minimal"
	VerbosityFocused       = "focused"
	VerbosityStandard      = "standard"
	VerbosityComprehensive = "comprehensive"
)

// Config holds the server configuration
type Config struct {
	// Limits for safety
	MaxSessions int `json:"maxSessions" yaml:"maxSessions"`

	// Timeouts
	CommandTimeout Duration `json:"commandTimeout" yaml:"commandTimeout"`
	HardTimeout    Duration `json:"hardTimeout" yaml:"hardTimeout"`
	StartupTimeout Duration `json:"startupTimeout" yaml:"startupTimeout"`
	SessionTimeout Duration `json:"sessionTimeout" yaml:"sessionTimeout"`

	// DefaultBackend is "lldb", "gdb" or empty for the platform default
	DefaultBackend string `json:"defaultBackend" yaml:"defaultBackend"`

	// Backend-specific executable configs
	Backends BackendConfigs `json:"backends" yaml:"backends"`

	Validation ValidationConfig `json:"validation" yaml:"validation"`
	Response   ResponseConfig   `json:"response" yaml:"response"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// BackendConfigs holds configuration for each debugger backend
type BackendConfigs struct {
	LLDB BackendConfig `json:"lldb" yaml:"lldb"`
	GDB  BackendConfig `json:"gdb" yaml:"gdb"`
}

// BackendConfig holds the executable and extra arguments for one debugger
type BackendConfig struct {
	Path string   `json:"path" yaml:"path"`
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// ValidationConfig restricts what untrusted tool arguments may name
type ValidationConfig struct {
	// AllowedPaths are doublestar globs; empty allows any regular file
	AllowedPaths        []string `json:"allowedPaths" yaml:"allowedPaths"`
	MaxExpressionLength int      `json:"maxExpressionLength" yaml:"maxExpressionLength"`
}

// ResponseConfig holds default response shaping options
type ResponseConfig struct {
	Verbosity  string   `json:"verbosity" yaml:"verbosity"`
	FocusAreas []string `json:"focusAreas" yaml:"focusAreas"`
}

// LogConfig controls server logging
type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	Wire  bool   `json:"wire" yaml:"wire"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxSessions:    4,
		CommandTimeout: Duration(30 * time.Second),
		HardTimeout:    Duration(2 * time.Minute),
		StartupTimeout: Duration(10 * time.Second),
		SessionTimeout: Duration(30 * time.Minute),
		Backends: BackendConfigs{
			LLDB: BackendConfig{Path: "lldb"},
			GDB:  BackendConfig{Path: "gdb"},
		},
		Validation: ValidationConfig{
			MaxExpressionLength: 1024,
		},
		Response: ResponseConfig{
			Verbosity: VerbosityStandard,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from a JSON or YAML file.
// The format is chosen by extension; anything other than .yaml/.yml is JSON.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// resolve expands ${...} variables in path-like fields
func (c *Config) resolve() error {
	var err error
	if c.Backends.LLDB.Path, err = ResolveVariables(c.Backends.LLDB.Path); err != nil {
		return fmt.Errorf("backends.lldb.path: %w", err)
	}
	if c.Backends.GDB.Path, err = ResolveVariables(c.Backends.GDB.Path); err != nil {
		return fmt.Errorf("backends.gdb.path: %w", err)
	}
	if c.Validation.AllowedPaths, err = ResolveStringSlice(c.Validation.AllowedPaths); err != nil {
		return fmt.Errorf("validation.allowedPaths: %w", err)
	}
	return nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.MaxSessions < 1 {
		return fmt.Errorf("maxSessions must be at least 1, got %d", c.MaxSessions)
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("commandTimeout must be positive")
	}
	if c.HardTimeout != 0 && c.HardTimeout < c.CommandTimeout {
		return fmt.Errorf("hardTimeout (%s) must not be shorter than commandTimeout (%s)", c.HardTimeout, c.CommandTimeout)
	}
	if c.SessionTimeout < 0 {
		return fmt.Errorf("sessionTimeout must not be negative")
	}
	switch c.DefaultBackend {
	case "", "lldb", "gdb":
	default:
		return fmt.Errorf("defaultBackend must be lldb or gdb, got %q", c.DefaultBackend)
	}
	switch c.Response.Verbosity {
	case "", VerbosityMinimal, VerbosityFocused, VerbosityStandard, VerbosityComprehensive:
	default:
		return fmt.Errorf("response.verbosity %q is not one of minimal, focused, standard, comprehensive", c.Response.Verbosity)
	}
	if c.Validation.MaxExpressionLength < 1 {
		return fmt.Errorf("validation.maxExpressionLength must be at least 1")
	}
	return nil
}

// PreferredBackend returns the configured default backend, falling back to
// LLDB on darwin and GDB elsewhere
func (c *Config) PreferredBackend() string {
	if c.DefaultBackend != "" {
		return c.DefaultBackend
	}
	if runtime.GOOS == "darwin" {
		return "lldb"
	}
	return "gdb"
}
