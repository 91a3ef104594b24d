package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
	PrintConfig     bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	// Define flags with environment variable fallback
	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("APICORE_CONFIG", ""),
		"Path to a JSON or YAML configuration file; defaults only when empty (env: APICORE_CONFIG)")

	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("APICORE_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: APICORE_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("APICORE_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: APICORE_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("APICORE_LOG_FORMAT", "json"),
		"Log format: json, text (env: APICORE_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("APICORE_DEBUG", false),
		"Enable debug logging (env: APICORE_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("APICORE_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: APICORE_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	fs.BoolVar(&cfg.PrintConfig, "print-config", false, "Print the effective configuration with secrets redacted and exit")

	fs.Usage = func() {
		printDetailedHelp(fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	out := fs.Output()
	_, _ = fmt.Fprintf(out, `%s - resource coordination core for external API clients

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(out, `
Environment overrides:
  APICORE_REDIS_URL   enable the Redis cache tier
  APICORE_NATS_URL    enable the NATS KV cache tier
  APICORE_CACHE_DSN   persistent cache DSN (file path, :memory: or postgres://)

Examples:
  # Run with a config file
  %s --config=/etc/apicore/apicore.yaml

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Validate configuration only
  %s --config=apicore.json --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
