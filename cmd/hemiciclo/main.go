package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/hemiciclo/internal/cli"
	"github.com/ashita-ai/hemiciclo/internal/config"
	"github.com/ashita-ai/hemiciclo/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("HEMICICLO_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	// stdout carries the JSON summary; logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		logger.Error("load config", "error", err)
		return cli.ExitFailure
	}

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		logger.Error("telemetry", "error", err)
		return cli.ExitFailure
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	return cli.Run(ctx, cli.Env{
		Config:  cfg,
		Logger:  logger,
		Version: version,
		Stdout:  os.Stdout,
	}, os.Args[1:])
}
