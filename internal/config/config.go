// Package config provides configuration parsing and validation for the UDP listener.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/postalsys/udp-listener/internal/logging"
	"github.com/postalsys/udp-listener/internal/udp"
)

// Config represents the complete listener configuration.
type Config struct {
	Listener    ListenerConfig    `yaml:"listener"`
	Logging     LoggingConfig     `yaml:"logging"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Health      HealthConfig      `yaml:"health"`
}

// ListenerConfig defines the UDP endpoint.
type ListenerConfig struct {
	Port            int      `yaml:"port"`              // local UDP port, bound on all interfaces
	MaxDatagramSize ByteSize `yaml:"max_datagram_size"` // per-read buffer
	ReadBuffer      ByteSize `yaml:"read_buffer"`       // SO_RCVBUF, 0 = OS default
}

// LoggingConfig defines log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// DiagnosticsConfig controls the built-in datagram log observer.
type DiagnosticsConfig struct {
	LogDatagrams bool    `yaml:"log_datagrams"`
	Rate         float64 `yaml:"rate"`          // log lines per second, 0 = unlimited
	Burst        int     `yaml:"burst"`         // lines allowed in a burst
	PreviewBytes int     `yaml:"preview_bytes"` // payload bytes shown as hex
}

// HealthConfig defines health check server settings.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ByteSize is a size in bytes that accepts human-readable values in YAML
// ("64KiB", "1.5MB", "4096").
type ByteSize int

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*b = 0
		return nil
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", s, err)
	}
	*b = ByteSize(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler. Sizes that do not survive the
// round trip through IEC units (65535 -> "64 KiB") are written as plain numbers.
func (b ByteSize) MarshalYAML() (any, error) {
	if b <= 0 {
		return 0, nil
	}
	s := humanize.IBytes(uint64(b))
	if n, err := humanize.ParseBytes(s); err == nil && n == uint64(b) {
		return s, nil
	}
	return int(b), nil
}

// String returns the size in IEC units.
func (b ByteSize) String() string {
	if b < 0 {
		return fmt.Sprintf("%d B", int(b))
	}
	return humanize.IBytes(uint64(b))
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Listener: ListenerConfig{
			Port:            60000,
			MaxDatagramSize: udp.MaxUDPPayload,
			ReadBuffer:      0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Diagnostics: DiagnosticsConfig{
			LogDatagrams: true,
			Rate:         20,
			Burst:        50,
			PreviewBytes: 16,
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      "127.0.0.1:8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration as YAML with a short header.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# udp-listener configuration\n# Values of the form ${VAR} or ${VAR:-default} are expanded from the environment.\n\n"
	if err := os.WriteFile(path, []byte(header+string(data)), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		// ${VAR:-default}
		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok {
				return val
			}
			return name[idx+2:]
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match // Keep original if not found
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Listener.Port < 0 || c.Listener.Port > 65535 {
		errs = append(errs, fmt.Sprintf("listener.port must be between 0 and 65535, got %d", c.Listener.Port))
	}
	if c.Listener.MaxDatagramSize < 1 || c.Listener.MaxDatagramSize > udp.MaxUDPPayload {
		errs = append(errs, fmt.Sprintf("listener.max_datagram_size must be between 1 and %d bytes", udp.MaxUDPPayload))
	}
	if c.Listener.ReadBuffer < 0 {
		errs = append(errs, "listener.read_buffer must not be negative")
	}

	if !logging.IsValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Sprintf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level))
	}
	if !logging.IsValidFormat(c.Logging.Format) {
		errs = append(errs, fmt.Sprintf("invalid logging.format: %s (must be text or json)", c.Logging.Format))
	}

	if c.Diagnostics.Rate < 0 {
		errs = append(errs, "diagnostics.rate must not be negative")
	}
	if c.Diagnostics.Rate > 0 && c.Diagnostics.Burst < 1 {
		errs = append(errs, "diagnostics.burst must be positive when rate is set")
	}
	if c.Diagnostics.PreviewBytes < 0 {
		errs = append(errs, "diagnostics.preview_bytes must not be negative")
	}

	if c.Health.Enabled && c.Health.Address == "" {
		errs = append(errs, "health.address is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// UDP returns the listener settings in the form udp.NewListener expects.
// Call Validate first; the port is assumed to be in range.
func (c *Config) UDP() udp.Config {
	return udp.Config{
		Port:            uint16(c.Listener.Port),
		MaxDatagramSize: int(c.Listener.MaxDatagramSize),
		ReadBuffer:      int(c.Listener.ReadBuffer),
	}
}

// String returns the configuration as YAML (for debugging).
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
