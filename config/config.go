// Package config provides configuration management for hostbridge.
// It handles loading, saving, and validating settings shared by the
// UI-side bridge and the host process.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/hostbridge/common"
)

// Transport kinds.
const (
	TransportDBus       = "dbus"
	TransportStdio      = "stdio"
	TransportStandalone = "standalone"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// Transport selects how the UI reaches the host: "dbus", "stdio" or "standalone".
	Transport string `yaml:"transport"`
	// HostCommand is the command line used to spawn the host for the stdio transport.
	HostCommand []string `yaml:"host_command,omitempty"`
	// UsePkexec runs HostCommand through pkexec.
	UsePkexec bool `yaml:"use_pkexec"`
	// RequestTimeout bounds every correlated request. Zero waits forever.
	RequestTimeout Duration `yaml:"request_timeout"`
	// HealthInterval is how often the host is pinged. Zero disables pinging.
	HealthInterval Duration `yaml:"health_interval"`
	// HealthFailureThreshold is the number of failed pings before the host is unhealthy.
	HealthFailureThreshold int `yaml:"health_failure_threshold"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// LogToFile enables rotated file logging.
	LogToFile bool `yaml:"log_to_file"`
	// JournalPath is the host request journal database. Empty uses the data directory.
	JournalPath string `yaml:"journal_path,omitempty"`
	// ShowTray starts the host tray indicator.
	ShowTray bool `yaml:"show_tray"`
	// Window seeds the host window state.
	Window common.WindowState `yaml:"window"`
}

// Duration is a time.Duration that reads and writes as "30s" in YAML.
type Duration time.Duration

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Transport:              TransportDBus,
		HostCommand:            []string{"hostbridge", "-host", "-stdio"},
		UsePkexec:              true,
		RequestTimeout:         Duration(30 * time.Second),
		HealthInterval:         Duration(common.HealthInterval),
		HealthFailureThreshold: 3,
		LogLevel:               "info",
		ShowTray:               true,
	}
}

// Load loads the configuration from the default config file.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	configPath, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(configPath)
}

// LoadFile loads the configuration from path, writing defaults there when missing.
func LoadFile(configPath string) (*Config, error) {
	if !common.FileExists(configPath) {
		cfg := DefaultConfig()
		if err := cfg.SaveFile(configPath); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // reject unknown fields

	config := DefaultConfig()
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", common.ErrConfigLoad, configPath, err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validate verifies values, falling back to defaults where a value is unusable.
func (c *Config) validate() error {
	switch c.Transport {
	case TransportDBus, TransportStdio, TransportStandalone:
	default:
		c.Transport = TransportDBus
	}
	if c.Transport == TransportStdio && len(c.HostCommand) == 0 {
		return errors.New("stdio transport requires host_command")
	}
	if c.RequestTimeout < 0 {
		return errors.New("request_timeout must not be negative")
	}
	if c.HealthFailureThreshold <= 0 {
		c.HealthFailureThreshold = 3
	}
	if _, ok := common.ParseLevel(c.LogLevel); !ok {
		c.LogLevel = "info"
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() common.LogLevel {
	level, _ := common.ParseLevel(c.LogLevel)
	return level
}

// SaveFile saves the configuration to configPath.
func (c *Config) SaveFile(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	return nil
}

// DefaultPath returns ~/.config/hostbridge/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", common.ConfigDirName, common.ConfigFileName), nil
}
