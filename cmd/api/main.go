package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/strataline/callflow-backend/internal/api/rest"
	"github.com/strataline/callflow-backend/internal/infrastructure/config"
	"github.com/strataline/callflow-backend/internal/infrastructure/telemetry"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "callflow-api: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracing, err := telemetry.InitializeOpenTelemetry(ctx, &telemetry.Config{
		ServiceName:    "callflow-backend",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer tracing.Shutdown(context.Background())

	logger.Info("starting callflow backend",
		"version", cfg.Version,
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	server, err := rest.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	return server.Run(ctx)
}
