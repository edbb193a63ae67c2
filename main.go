// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nohassle/hdmi-matrix-bridge/app"
	"github.com/nohassle/hdmi-matrix-bridge/config"
	"github.com/nohassle/hdmi-matrix-bridge/matrix"
	"github.com/nohassle/hdmi-matrix-bridge/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	metricsPort := flag.String("metrics-port", "9090", "Port for Prometheus metrics endpoint")
	check := flag.Bool("check", false, "Check matrix reachability and exit")
	validateConfig := flag.Bool("validate-config", false, "Validate configuration file and exit")
	flag.Parse()

	if *validateConfig {
		os.Exit(performConfigValidation(*configPath))
	}

	if *check {
		os.Exit(performMatrixCheck(*configPath))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Initialize("error")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(cfg.Logging.Level)

	logger.Info().Msg("Starting HDMI Matrix Bridge")
	logger.Info().Str("host", cfg.Matrix.Host).
		Dur("poll_interval", cfg.Matrix.PollInterval).
		Int("zones", len(cfg.Matrix.Zones)).
		Int("sources", len(cfg.Matrix.Sources)).
		Msg("Configuration loaded")

	configChan := make(chan *config.Config)
	configWatcher := config.NewWatcher(*configPath, configChan)

	application, err := app.New(cfg, *metricsPort, configWatcher)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create application")
	}

	setupDebugSignalHandlers(application)

	application.Run(configChan)
}

// performMatrixCheck connects to the matrix and queries power state.
func performMatrixCheck(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Check failed: could not load config: %v\n", err)
		return 1
	}
	if cfg.Matrix.Host == "" {
		fmt.Fprintln(os.Stderr, "Check failed: no matrix host configured")
		return 1
	}

	logger.Initialize("error")
	client := matrix.NewClient(cfg.Matrix.Host, cfg.Matrix.Timeout)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status, err := client.Status(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Check failed: matrix at %s is unreachable: %v\n", cfg.Matrix.Host, err)
		return 1
	}

	fmt.Printf("Check passed: matrix at %s is reachable, power %s\n", cfg.Matrix.Host, status.Power)

	// Device-side input names help verify the configured source table lines up
	// with what the matrix itself reports.
	inputs, err := client.InputStatus(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not read device input names: %v\n", err)
	} else if len(inputs.Names) > 0 {
		fmt.Printf("Device input names: %s\n", strings.Join(inputs.Names, ", "))
	}
	return 0
}

// performConfigValidation validates the configuration file and returns exit code
func performConfigValidation(configPath string) int {
	logger.Initialize("info")
	logger.Info().Str("path", configPath).Msg("Validating configuration file")

	if err := config.ValidateWithSchema(configPath); err != nil {
		logger.Error().Err(err).Msg("Configuration schema validation failed")
		fmt.Fprintf(os.Stderr, "\nConfiguration validation FAILED\n")
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Configuration validation failed")
		fmt.Fprintf(os.Stderr, "\nConfiguration validation FAILED\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		return 1
	}

	fmt.Println("\nConfiguration validation PASSED")
	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Matrix Host: %s\n", cfg.Matrix.Host)
	fmt.Printf("  Poll Interval: %s\n", cfg.Matrix.PollInterval)
	fmt.Printf("  Command Timeout: %s\n", cfg.Matrix.Timeout)
	fmt.Printf("  Zones: %d\n", len(cfg.Matrix.Zones))
	fmt.Printf("  Sources: %d\n", len(cfg.Matrix.Sources))
	fmt.Printf("  Log Level: %s\n", cfg.Logging.Level)

	if cfg.MQTT.Enabled() {
		fmt.Printf("  MQTT Broker: %s\n", cfg.MQTT.Broker)
		fmt.Printf("  MQTT Topic Prefix: %s\n", cfg.MQTT.TopicPrefix)
	} else {
		fmt.Println("  MQTT Bridge: Disabled")
	}

	if cfg.InfluxDB.Enabled() {
		fmt.Printf("  InfluxDB URL: %s\n", cfg.InfluxDB.URL)
		fmt.Printf("  InfluxDB Bucket: %s\n", cfg.InfluxDB.Bucket)
		fmt.Printf("  Spool Directory: %s\n", cfg.InfluxDB.SpoolDir)
	} else {
		fmt.Println("  Event Recording: Disabled")
	}

	if cfg.Discovery.Enabled {
		fmt.Printf("  mDNS Discovery: %s in %s\n", cfg.Discovery.ServiceType, cfg.Discovery.Domain)
	} else {
		fmt.Println("  mDNS Discovery: Disabled")
	}

	fmt.Println("\nAll validation checks passed. Configuration is ready for use.")
	return 0
}
