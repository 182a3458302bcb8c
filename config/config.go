// Package config provides configuration management for the tala command-line tool.
// It supports loading configuration from YAML files, environment variables, and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/tala/pkg/audit/disconnect"
	talaerrors "github.com/otherjamesbrown/tala/pkg/errors"
)

// OutputFormat defines the supported output formats for listings.
type OutputFormat string

const (
	// OutputFormatCSV is the comma-separated layout of the original reports.
	OutputFormatCSV OutputFormat = "csv"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML is YAML-formatted output for machine processing.
	OutputFormatYAML OutputFormat = "yaml"
)

// Default configuration values.
const (
	DefaultOutputFormat = OutputFormatCSV
	DefaultPolicy       = disconnect.PolicySameDevice
	DefaultConfigDir    = ".tala"
	DefaultConfigFile   = "config.yaml"
)

// Config holds the settings of one tala run. It is built once at startup and
// not modified afterwards.
type Config struct {
	// UsersFile is the organizer ID to email table. Empty disables it.
	// Supports ~ for home directory expansion.
	UsersFile string `yaml:"users_file,omitempty"`

	// IPFilter is a regular expression restricting the disconnection
	// analysis to matching client IPs.
	IPFilter string `yaml:"ip_filter,omitempty"`

	// Policy selects the disconnection heuristic.
	Policy disconnect.Policy `yaml:"policy"`

	// OutputFormat specifies the format of the organizer and attendee listings.
	OutputFormat OutputFormat `yaml:"output_format"`

	// Debug enables verbose debug logging, including info advisories.
	Debug bool `yaml:"debug,omitempty"`

	// LogJSON switches the log output from console to JSON lines.
	LogJSON bool `yaml:"log_json,omitempty"`

	// MetricsFile receives the run counters in Prometheus text format.
	MetricsFile string `yaml:"metrics_file,omitempty"`

	ipFilter *regexp.Regexp
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Policy:       DefaultPolicy,
		OutputFormat: DefaultOutputFormat,
	}
}

// ConfigDir returns the configuration directory path.
// Uses $TALA_CONFIG_DIR if set, otherwise ~/.tala
func ConfigDir() (string, error) {
	if dir := os.Getenv("TALA_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// LoadConfig loads the configuration from the default file and environment variables.
// Configuration is loaded in this order (later sources override earlier):
// 1. Default values
// 2. Config file (~/.tala/config.yaml or $TALA_CONFIG_DIR/config.yaml), when present
// 3. Environment variables (TALA_USERS_FILE, TALA_POLICY, TALA_OUTPUT_FORMAT, ...)
func LoadConfig() (*Config, error) {
	configPath, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}
	return load(configPath, false)
}

// LoadConfigFile is LoadConfig with an explicit config file, which must exist.
func LoadConfigFile(path string) (*Config, error) {
	return load(path, true)
}

func load(path string, required bool) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil || required {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Overlay environment variables.
	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	type configFile struct {
		UsersFile    string            `yaml:"users_file"`
		IPFilter     string            `yaml:"ip_filter"`
		Policy       disconnect.Policy `yaml:"policy"`
		OutputFormat OutputFormat      `yaml:"output_format"`
		Debug        bool              `yaml:"debug"`
		LogJSON      bool              `yaml:"log_json"`
		MetricsFile  string            `yaml:"metrics_file"`
	}

	var fileCfg configFile
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if fileCfg.UsersFile != "" {
		cfg.UsersFile = fileCfg.UsersFile
	}
	if fileCfg.IPFilter != "" {
		cfg.IPFilter = fileCfg.IPFilter
	}
	if fileCfg.Policy != "" {
		cfg.Policy = fileCfg.Policy
	}
	if fileCfg.OutputFormat != "" {
		cfg.OutputFormat = fileCfg.OutputFormat
	}
	if fileCfg.MetricsFile != "" {
		cfg.MetricsFile = fileCfg.MetricsFile
	}
	cfg.Debug = fileCfg.Debug
	cfg.LogJSON = fileCfg.LogJSON

	return nil
}

// loadFromEnv overlays environment variables onto the configuration.
func loadFromEnv(cfg *Config) {
	if v := os.Getenv("TALA_USERS_FILE"); v != "" {
		cfg.UsersFile = v
	}

	if v := os.Getenv("TALA_IP_FILTER"); v != "" {
		cfg.IPFilter = v
	}

	if v := os.Getenv("TALA_POLICY"); v != "" {
		cfg.Policy = disconnect.Policy(strings.ToLower(v))
	}

	if v := os.Getenv("TALA_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(strings.ToLower(v))
	}

	if v := os.Getenv("TALA_DEBUG"); v == "true" || v == "1" {
		cfg.Debug = true
	}

	if v := os.Getenv("TALA_LOG_JSON"); v == "true" || v == "1" {
		cfg.LogJSON = true
	}

	if v := os.Getenv("TALA_METRICS_FILE"); v != "" {
		cfg.MetricsFile = v
	}
}

// Validate checks that the configuration is valid and compiles the IP filter.
func (c *Config) Validate() error {
	if !c.Policy.IsValid() {
		return fmt.Errorf("%w: invalid policy: %q (must be %s or %s)",
			talaerrors.ErrInvalidConfig, c.Policy, disconnect.PolicySameDevice, disconnect.PolicyAny)
	}

	if !c.OutputFormat.IsValid() {
		return fmt.Errorf("%w: invalid output_format: %q (must be csv, json, or yaml)",
			talaerrors.ErrInvalidConfig, c.OutputFormat)
	}

	c.ipFilter = nil
	if c.IPFilter != "" {
		re, err := regexp.Compile(c.IPFilter)
		if err != nil {
			return fmt.Errorf("%w: invalid ip_filter: %v", talaerrors.ErrInvalidConfig, err)
		}
		c.ipFilter = re
	}

	return nil
}

// IPFilterRegexp returns the compiled IP filter, nil when none is configured
// or Validate has not run.
func (c *Config) IPFilterRegexp() *regexp.Regexp {
	return c.ipFilter
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatCSV, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// SaveConfig saves the configuration to the config file.
func SaveConfig(cfg *Config) error {
	configDir, err := ConfigDir()
	if err != nil {
		return fmt.Errorf("getting config directory: %w", err)
	}

	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// With returns a validated copy of c with fn applied, leaving c untouched.
// Commands use it to layer their own flags over the loaded configuration.
func (c *Config) With(fn func(*Config)) (*Config, error) {
	next := *c
	fn(&next)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return &next, nil
}
