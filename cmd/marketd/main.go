// Command marketd keeps a local view of a marketplace contract in sync and
// serves it over HTTP. It loads configuration, validates it, wires
// dependencies, sets up signal handling, and starts the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/marketsync/internal/app"
	"github.com/alanyoungcy/marketsync/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file (empty for defaults and env only)")
	sealKeyPath := flag.String("seal-key", "", "encrypt wallet.private_key with wallet.key_password into this file and exit")
	flag.Parse()

	// Setup structured JSON logger.
	logger := newLogger(slog.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = newLogger(parseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	if *sealKeyPath != "" {
		addr, err := app.SealKey(cfg.Wallet, *sealKeyPath)
		if err != nil {
			logger.Error("failed to seal wallet key", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("wallet key sealed",
			slog.String("path", *sealKeyPath),
			slog.String("address", addr.Hex()),
		)
		return
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("marketd starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("marketd shut down gracefully")
		} else {
			logger.Error("marketd exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("marketd stopped")
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
