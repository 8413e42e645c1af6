// Package config loads, validates and saves the portprobe configuration
// file. Every value has a default, so a missing file is not an error.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/scanning"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600

	// Output formats.
	FormatTable = "table"
	FormatCSV   = "csv"

	// Scan modes for single-host scans.
	ModeSequential = "sequential"
	ModeConcurrent = "concurrent"
)

// Config represents the complete portprobe configuration
type Config struct {
	// Connect scanning configuration
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// Service fingerprinting configuration
	Fingerprint FingerprintConfig `yaml:"fingerprint" json:"fingerprint"`

	// Result output configuration
	Output OutputConfig `yaml:"output" json:"output"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ScanningConfig holds connect-scan settings
type ScanningConfig struct {
	// Timeout for a single connect attempt
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`

	// Strategy for single-host scans
	Mode string `yaml:"mode" json:"mode" validate:"oneof=sequential concurrent"`

	// Concurrent probes for a single-host scan
	PortWorkers int `yaml:"port_workers" json:"port_workers" validate:"min=1"`

	// Concurrent hosts for a multi-host scan
	HostWorkers int `yaml:"host_workers" json:"host_workers" validate:"min=1"`

	// Concurrent probes per host in a multi-host scan (0 = sequential)
	PerHostWorkers int `yaml:"per_host_workers" json:"per_host_workers" validate:"min=0"`

	// Cap on simultaneously open sockets (0 = derived from workers)
	MaxOpenSockets int `yaml:"max_open_sockets" json:"max_open_sockets" validate:"min=0"`

	// Ports scanned when none are given
	DefaultPorts string `yaml:"default_ports" json:"default_ports" validate:"required"`
}

// FingerprintConfig holds service detection settings
type FingerprintConfig struct {
	// Name or path of the nmap binary
	NmapBinary string `yaml:"nmap_binary" json:"nmap_binary" validate:"required"`

	// Concurrent hosts being fingerprinted
	Workers int `yaml:"workers" json:"workers" validate:"min=1"`

	// Ports fingerprinted when none are given
	DefaultPorts string `yaml:"default_ports" json:"default_ports" validate:"required"`
}

// OutputConfig holds result output settings
type OutputConfig struct {
	// Output format: table or csv
	Format string `yaml:"format" json:"format" validate:"oneof=table csv"`

	// File to write results to (empty = stdout for table, required for csv)
	File string `yaml:"file" json:"file"`

	// Show the reason column in tables
	Verbose bool `yaml:"verbose" json:"verbose"`

	// Write Prometheus metrics to this file after each run
	MetricsTextfile string `yaml:"metrics_textfile" json:"metrics_textfile"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level: debug, info, warn, error
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`

	// Log format: text, json
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`

	// Output destination: stdout, stderr, or file path
	Output string `yaml:"output" json:"output"`

	// Include source locations
	AddSource bool `yaml:"add_source" json:"add_source"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Scanning: ScanningConfig{
			Timeout:        scanning.DefaultTimeout,
			Mode:           ModeConcurrent,
			PortWorkers:    scanning.DefaultPortConcurrency,
			HostWorkers:    scanning.DefaultHostConcurrency,
			PerHostWorkers: 0,
			MaxOpenSockets: 0,
			DefaultPorts:   "22,80,443",
		},
		Fingerprint: FingerprintConfig{
			NmapBinary:   scanning.DefaultNmapBinary,
			Workers:      scanning.DefaultFingerprintWorkers,
			DefaultPorts: "22,80,443",
		},
		Output: OutputConfig{
			Format: FormatTable,
		},
		Logging: LoggingConfig{
			Level:  string(logging.LevelInfo),
			Format: string(logging.FormatText),
			Output: "stderr",
		},
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	// Start with defaults
	config := Default()

	if path == "" {
		return config, nil
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil // Return defaults if no config file
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// JSON is a subset of YAML, so one decoder serves both
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPerm); err != nil {
		return errors.WrapConfigError(errors.CodeFileWrite, "failed to create config directory", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return errors.WrapConfigError(errors.CodeFileWrite, "failed to write config file", err)
	}

	return nil
}

var validate = validator.New()

// Validate validates the configuration
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		cfgErr := errors.ErrConfigInvalid(fe.Namespace(), fe.Value())
		cfgErr.Message = fmt.Sprintf("invalid configuration value, failed %q constraint", fe.Tag())
		return cfgErr
	}
	return errors.WrapConfigError(errors.CodeValidation, "invalid configuration", err)
}

// SingleHostScanConfig returns the scan settings for scanning one host.
func (c *Config) SingleHostScanConfig() scanning.ScanConfig {
	return scanning.ScanConfig{
		Timeout:        c.Scanning.Timeout,
		MaxConcurrency: c.Scanning.PortWorkers,
		MaxOpenSockets: c.Scanning.MaxOpenSockets,
	}
}

// MultiHostScanConfig returns the scan settings for scanning several hosts.
func (c *Config) MultiHostScanConfig() scanning.ScanConfig {
	return scanning.ScanConfig{
		Timeout:         c.Scanning.Timeout,
		MaxConcurrency:  c.Scanning.HostWorkers,
		HostConcurrency: c.Scanning.PerHostWorkers,
		MaxOpenSockets:  c.Scanning.MaxOpenSockets,
	}
}

// FingerprintScanConfig returns the scan settings for fingerprinting.
func (c *Config) FingerprintScanConfig() scanning.ScanConfig {
	return scanning.ScanConfig{
		Timeout:        c.Scanning.Timeout,
		MaxConcurrency: c.Fingerprint.Workers,
	}
}

// GetLoggingConfig converts the logging section for the logging package.
func (c *Config) GetLoggingConfig() logging.Config {
	return logging.Config{
		Level:     logging.LogLevel(c.Logging.Level),
		Format:    logging.LogFormat(c.Logging.Format),
		Output:    c.Logging.Output,
		AddSource: c.Logging.AddSource,
	}
}
