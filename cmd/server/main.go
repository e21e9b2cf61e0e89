// Package main implements the taskcore server: it accepts tasks over HTTP,
// runs them on a per-tenant worker pool and fires recurring jobs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/taskcore/internal/config"
	"github.com/phrazzld/taskcore/internal/platform/logger"
)

func main() {
	migrateOnly := flag.Bool("migrate-only", false, "apply database migrations and exit")
	flag.Parse()

	cfg, logr, err := initializeApp()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *migrateOnly {
		if err := runMigrationsOnly(ctx, cfg, logr); err != nil {
			logr.Error("migrations failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	app, err := newApplication(ctx, cfg, logr)
	if err != nil {
		logr.Error("failed to build application", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := app.Run(ctx); err != nil {
		logr.Error("server stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// initializeApp loads configuration and sets up structured logging.
func initializeApp() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logr, err := logger.Setup(logger.LoggerConfig{Level: cfg.Server.LogLevel})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	logr.Info("server configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel),
		slog.String("database_driver", cfg.Database.Driver))
	return cfg, logr, nil
}
