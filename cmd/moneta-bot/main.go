package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"moneta/internal/bot"
	"moneta/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadBotFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	b, err := bot.New(cfg, logger)
	if err != nil {
		logger.Error("bot init failed", "err", err)
		os.Exit(1)
	}

	if err := b.Run(ctx); err != nil {
		logger.Error("bot failed", "err", err)
		os.Exit(1)
	}
	logger.Info("bot shutdown")
}
