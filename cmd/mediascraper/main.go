// Package main wires together the media scraper service binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/media-scraper/internal/config"
	"github.com/JakeFAU/media-scraper/internal/logging"
	"github.com/JakeFAU/media-scraper/internal/server"
	pgstore "github.com/JakeFAU/media-scraper/internal/storage/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	migrateOnly := flag.Bool("migrate", false, "apply database migrations and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	ctx := context.Background()
	if *migrateOnly {
		if cfg.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for -migrate")
		}
		if err := pgstore.Migrate(ctx, cfg.DB.DSN); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied")
		return nil
	}

	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build application", zap.Error(err))
		return fmt.Errorf("build application: %w", err)
	}
	return app.Run(ctx)
}
