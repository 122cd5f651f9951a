// Command agentdesk runs the multi-agent trading desk. It loads and
// validates configuration, sets up signal handling and runs the configured
// mode: live, paper, backtest or optimize.
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

	"github.com/alanyoungcy/agentdesk/internal/app"
	"github.com/alanyoungcy/agentdesk/internal/config"
	"github.com/alanyoungcy/agentdesk/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode")
	encryptTo := flag.String("encrypt-secret", "", "encrypt AGENTDESK_BINANCE_API_SECRET with AGENTDESK_BINANCE_SECRET_PASSWORD into this file and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if *encryptTo != "" {
		if err := encryptSecret(*encryptTo); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		logger.Info("encrypted secret written", slog.String("path", *encryptTo))
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Debug("configuration loaded", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error", slog.String("error", err.Error()))
			application.Close()
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}
	logger.Info("agentdesk stopped")
}

func encryptSecret(path string) error {
	secret := os.Getenv("AGENTDESK_BINANCE_API_SECRET")
	password := os.Getenv("AGENTDESK_BINANCE_SECRET_PASSWORD")
	if secret == "" || password == "" {
		return errors.New("AGENTDESK_BINANCE_API_SECRET and AGENTDESK_BINANCE_SECRET_PASSWORD must be set")
	}
	blob, err := crypto.EncryptSecret(secret, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}
