package main

import (
	"context"
	"log/slog"
	"os"

	"kpiwatch-backend/internal/config"
	"kpiwatch-backend/internal/storage"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.Logging, os.Stdout)
	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}

	ctx := context.Background()
	store, err := storage.NewStore(ctx, cfg.Database.URL, 2)
	if err != nil {
		logger.Error("failed to connect", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	applied, err := store.Migrate(ctx, dir, logger)
	if err != nil {
		logger.Error("migration failed", slog.String("error", err.Error()))
		store.Close()
		os.Exit(1)
	}
	logger.Info("migrations complete", slog.String("dir", dir), slog.Int("applied", len(applied)))
}
