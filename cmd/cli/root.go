// Package cli provides the Cobra command tree for the portprobe port scanner.
// Commands read their settings through viper, so every option can come from
// a flag, a PORTPROBE_* environment variable or the portprobe.yaml file.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/portprobe/internal/config"
	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/logging"
)

const (
	envPrefix      = "PORTPROBE"
	configFileName = "portprobe"
)

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "portprobe",
	Short: "Concurrent TCP connect port scanner",
	Long: `portprobe checks which TCP ports accept connections on one or more hosts.

Every requested host and port gets exactly one result: open, closed or error.
Scans run sequentially or through a bounded worker pool, and an optional nmap
pass adds service names, versions and CPEs.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./portprobe.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (adds the reason column)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text, json")

	// Bind flags to viper
	if err := bindFlags(rootCmd.PersistentFlags(), persistentBindings); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

var persistentBindings = map[string]string{
	"output.verbose": "verbose",
	"logging.level":  "log-level",
	"logging.format": "log-format",
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(configFileName)
	}

	setupEnv()
	setConfigDefaults()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	initLogging()
}

// setupEnv maps configuration keys to environment variables, e.g.
// scanning.timeout to PORTPROBE_SCANNING_TIMEOUT.
func setupEnv() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// setConfigDefaults registers every configuration key with viper so that
// environment variables and Unmarshal can see it.
func setConfigDefaults() {
	d := config.Default()

	// Scanning configuration
	viper.SetDefault("scanning.timeout", d.Scanning.Timeout)
	viper.SetDefault("scanning.mode", d.Scanning.Mode)
	viper.SetDefault("scanning.port_workers", d.Scanning.PortWorkers)
	viper.SetDefault("scanning.host_workers", d.Scanning.HostWorkers)
	viper.SetDefault("scanning.per_host_workers", d.Scanning.PerHostWorkers)
	viper.SetDefault("scanning.max_open_sockets", d.Scanning.MaxOpenSockets)
	viper.SetDefault("scanning.default_ports", d.Scanning.DefaultPorts)

	// Fingerprint configuration
	viper.SetDefault("fingerprint.nmap_binary", d.Fingerprint.NmapBinary)
	viper.SetDefault("fingerprint.workers", d.Fingerprint.Workers)
	viper.SetDefault("fingerprint.default_ports", d.Fingerprint.DefaultPorts)

	// Output configuration
	viper.SetDefault("output.format", d.Output.Format)
	viper.SetDefault("output.file", d.Output.File)
	viper.SetDefault("output.verbose", d.Output.Verbose)
	viper.SetDefault("output.metrics_textfile", d.Output.MetricsTextfile)

	// Logging configuration
	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.format", d.Logging.Format)
	viper.SetDefault("logging.output", d.Logging.Output)
	viper.SetDefault("logging.add_source", d.Logging.AddSource)
}

// loadConfig merges defaults, config file, environment and flags into a
// validated configuration.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if err := viper.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to decode configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindFlags binds command flags to configuration keys. It runs from PreRunE
// because several commands share keys and viper keeps one flag per key.
func bindFlags(flags *pflag.FlagSet, bindings map[string]string) error {
	for key, name := range bindings {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("unknown flag %q for key %s", name, key)
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind %s flag: %w", name, err)
		}
	}
	return nil
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	cfg, err := loadConfig()
	if err != nil {
		// If config loading fails, use default logging
		logging.SetDefault(logging.NewDefault())
		return
	}

	logger, err := logging.New(cfg.GetLoggingConfig())
	if err != nil {
		// Fall back to default if creation fails
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}

	logging.SetDefault(logger)

	if verbose {
		logging.Debug("Structured logging initialized", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	}
}
