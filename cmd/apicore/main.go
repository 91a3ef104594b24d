// Package main runs apicore as a standalone process: it builds the
// coordinator from configuration, serves Prometheus metrics and health, and
// drains batches on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/apicore/config"
	"github.com/c360/apicore/coordinator"
	"github.com/c360/apicore/metric"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "apicore"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, logger, shouldExit, err := initializeCLI(args)
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}
	if cliCfg.PrintConfig {
		fmt.Println(cfg.String())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	coord, err := coordinator.New(ctx, cfg,
		coordinator.WithLogger(logger),
		coordinator.WithMetrics(registry),
	)
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}

	serverErr := make(chan error, 1)
	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		metricsServer.SetHealthCheck(coord.Health)
		go func() {
			if err := metricsServer.Start(); err != nil {
				serverErr <- err
			}
		}()
		logger.Info("Metrics server started", "address", metricsServer.Address())
	}

	logger.Info("apicore started",
		"remote_backend", cfg.Cache.Remote.Backend,
		"store_driver", cfg.Cache.Store.Driver(),
		"health", coord.Health().State)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErr:
		runErr = fmt.Errorf("metrics server: %w", err)
	}

	if err := shutdown(coord, metricsServer, cliCfg.ShutdownTimeout); err != nil {
		return errors.Join(runErr, fmt.Errorf("graceful shutdown failed: %w", err))
	}
	logger.Info("apicore shutdown complete")
	return runErr
}

// initializeCLI parses flags and sets up logging
func initializeCLI(args []string) (*CLIConfig, *slog.Logger, bool, error) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cliCfg, err := parseFlags(fs, args)
	if errors.Is(err, flag.ErrHelp) {
		return nil, nil, true, nil
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp(fs)
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("Starting apicore",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// loadConfig layers path, when given, over the defaults and applies the
// environment overrides.
func loadConfig(path string) (config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	return loader.Load()
}

// shutdown stops the metrics server first so scrapes do not observe a
// half-closed coordinator, then drains the coordinator.
func shutdown(coord *coordinator.Coordinator, metricsServer *metric.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if metricsServer != nil {
		if err := metricsServer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := coord.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
