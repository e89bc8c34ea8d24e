// Package config loads the monitor's configuration file. Every field is
// optional: unset fields fall back to the defaults returned by the Get*
// accessors, and command-line flags override whatever the file sets.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/tlv-telemetry/internal/fsutil"
	"github.com/banshee-data/tlv-telemetry/internal/serialmux"
	"github.com/banshee-data/tlv-telemetry/internal/telemetry"
)

// maxFileSize bounds the config file.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// Defaults.
const (
	DefaultPort    = "/dev/ttyS0"
	DefaultDisplay = DisplayTerminal
)

// Display modes.
const (
	DisplayTerminal = "terminal"
	DisplayTUI      = "tui"
	DisplayNone     = "none"
)

// Config is the file form of the monitor's settings.
type Config struct {
	Port        *string `json:"port,omitempty" yaml:"port,omitempty" toml:"port,omitempty"`
	BaudRate    *int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty" toml:"baud_rate,omitempty"`
	DataBits    *int    `json:"data_bits,omitempty" yaml:"data_bits,omitempty" toml:"data_bits,omitempty"`
	StopBits    *int    `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty" toml:"stop_bits,omitempty"`
	Parity      *string `json:"parity,omitempty" yaml:"parity,omitempty" toml:"parity,omitempty"`
	ReadTimeout *string `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty" toml:"read_timeout,omitempty"` // duration string like "1s"
	ReadSize    *int    `json:"read_size,omitempty" yaml:"read_size,omitempty" toml:"read_size,omitempty"`
	ReopenDelay *string `json:"reopen_delay,omitempty" yaml:"reopen_delay,omitempty" toml:"reopen_delay,omitempty"` // "0s" disables reopening

	Listen       *string `json:"listen,omitempty" yaml:"listen,omitempty" toml:"listen,omitempty"`
	MQTTBroker   *string `json:"mqtt_broker,omitempty" yaml:"mqtt_broker,omitempty" toml:"mqtt_broker,omitempty"`
	MQTTClientID *string `json:"mqtt_client_id,omitempty" yaml:"mqtt_client_id,omitempty" toml:"mqtt_client_id,omitempty"`

	Display   *string `json:"display,omitempty" yaml:"display,omitempty" toml:"display,omitempty"`
	LogLevel  *string `json:"log_level,omitempty" yaml:"log_level,omitempty" toml:"log_level,omitempty"`
	LogFormat *string `json:"log_format,omitempty" yaml:"log_format,omitempty" toml:"log_format,omitempty"`
	LogFile   *string `json:"log_file,omitempty" yaml:"log_file,omitempty" toml:"log_file,omitempty"`

	// Channels replaces the built-in channel table when non-empty.
	Channels []telemetry.Channel `json:"channels,omitempty" yaml:"channels,omitempty" toml:"channels,omitempty"`
}

// Helper functions to create pointers
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// Load reads a config file from the local filesystem. The format follows
// the extension: .json, .yaml/.yml or .toml.
func Load(path string) (*Config, error) {
	return LoadFS(fsutil.OSFileSystem{}, path)
}

// LoadFS reads a config file from fsys.
func LoadFS(fsys fsutil.FileSystem, path string) (*Config, error) {
	cleanPath := filepath.Clean(path)

	fileInfo, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(filepath.Ext(cleanPath), data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes data in the format named by ext. Unknown keys are errors so
// typos do not silently fall back to defaults.
func Parse(ext string, data []byte) (*Config, error) {
	cfg := &Config{}
	switch strings.ToLower(ext) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("failed to parse config TOML: unknown key %q", undecoded[0].String())
		}
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml, .yml or .toml extension, got %q", ext)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *Config) Validate() error {
	if _, err := c.PortOptions(); err != nil {
		return err
	}
	if c.ReadSize != nil && *c.ReadSize <= 0 {
		return fmt.Errorf("read_size must be positive, got %d", *c.ReadSize)
	}
	if c.ReopenDelay != nil && *c.ReopenDelay != "" {
		d, err := time.ParseDuration(*c.ReopenDelay)
		if err != nil {
			return fmt.Errorf("invalid reopen_delay '%s': %w", *c.ReopenDelay, err)
		}
		if d < 0 {
			return fmt.Errorf("reopen_delay must not be negative, got %s", d)
		}
	}
	switch c.GetDisplay() {
	case DisplayTerminal, DisplayTUI, DisplayNone:
	default:
		return fmt.Errorf("display must be one of terminal, tui or none, got %q", c.GetDisplay())
	}
	switch strings.ToLower(c.GetLogFormat()) {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", c.GetLogFormat())
	}
	if len(c.Channels) > 0 {
		if _, err := telemetry.NewRegistry(c.Channels); err != nil {
			return fmt.Errorf("channels: %w", err)
		}
	}
	return nil
}

// GetPort returns the serial device path.
func (c *Config) GetPort() string {
	if c.Port == nil || *c.Port == "" {
		return DefaultPort
	}
	return *c.Port
}

// PortOptions returns the serial parameters, normalized and validated.
func (c *Config) PortOptions() (serialmux.PortOptions, error) {
	var opts serialmux.PortOptions
	if c.BaudRate != nil {
		opts.BaudRate = *c.BaudRate
	}
	if c.DataBits != nil {
		opts.DataBits = *c.DataBits
	}
	if c.StopBits != nil {
		opts.StopBits = *c.StopBits
	}
	if c.Parity != nil {
		opts.Parity = *c.Parity
	}
	if c.ReadTimeout != nil && *c.ReadTimeout != "" {
		d, err := time.ParseDuration(*c.ReadTimeout)
		if err != nil {
			return opts, fmt.Errorf("invalid read_timeout '%s': %w", *c.ReadTimeout, err)
		}
		opts.ReadTimeout = d
	}
	return opts.Normalize()
}

// GetReadSize returns the number of bytes requested per read.
func (c *Config) GetReadSize() int {
	if c.ReadSize == nil {
		return serialmux.DefaultReadSize
	}
	return *c.ReadSize
}

// GetReopenDelay returns how long to wait before reopening a port that
// failed. Zero means do not reopen.
func (c *Config) GetReopenDelay() time.Duration {
	if c.ReopenDelay == nil || *c.ReopenDelay == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.ReopenDelay)
	if err != nil {
		return 0
	}
	return d
}

// GetListen returns the HTTP listen address; empty disables the API.
func (c *Config) GetListen() string {
	if c.Listen == nil {
		return ""
	}
	return *c.Listen
}

// GetMQTTBroker returns the broker URL; empty disables publishing.
func (c *Config) GetMQTTBroker() string {
	if c.MQTTBroker == nil {
		return ""
	}
	return *c.MQTTBroker
}

// GetMQTTClientID returns the configured client id, or empty to use the
// machine-derived default.
func (c *Config) GetMQTTClientID() string {
	if c.MQTTClientID == nil {
		return ""
	}
	return *c.MQTTClientID
}

// GetDisplay returns the display mode.
func (c *Config) GetDisplay() string {
	if c.Display == nil || *c.Display == "" {
		return DefaultDisplay
	}
	return strings.ToLower(*c.Display)
}

// GetLogLevel returns the log level name.
func (c *Config) GetLogLevel() string {
	if c.LogLevel == nil || *c.LogLevel == "" {
		return "info"
	}
	return *c.LogLevel
}

// GetLogFormat returns console or json.
func (c *Config) GetLogFormat() string {
	if c.LogFormat == nil || *c.LogFormat == "" {
		return "console"
	}
	return *c.LogFormat
}

// GetLogFile returns the log file path; empty means stderr.
func (c *Config) GetLogFile() string {
	if c.LogFile == nil {
		return ""
	}
	return *c.LogFile
}

// Registry returns the channel registry: the configured table if any,
// otherwise the built-in one.
func (c *Config) Registry() (*telemetry.Registry, error) {
	if len(c.Channels) == 0 {
		return telemetry.DefaultRegistry(), nil
	}
	return telemetry.NewRegistry(c.Channels)
}

// SetString sets a string field from a flag value.
func SetString(dst **string, v string) { *dst = ptrString(v) }

// SetInt sets an int field from a flag value.
func SetInt(dst **int, v int) { *dst = ptrInt(v) }
