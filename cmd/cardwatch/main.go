package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/cardwatch-lab/cardwatch/internal/aggregation"
	"github.com/cardwatch-lab/cardwatch/internal/config"
	"github.com/cardwatch-lab/cardwatch/internal/core/storage/postgres"
	"github.com/cardwatch-lab/cardwatch/internal/core/threshold"
	"github.com/cardwatch-lab/cardwatch/internal/ingestion"
	"github.com/cardwatch-lab/cardwatch/internal/migrations"
	"github.com/cardwatch-lab/cardwatch/internal/notify"
	"github.com/cardwatch-lab/cardwatch/internal/recalc"
	"github.com/cardwatch-lab/cardwatch/internal/schedule"
	"github.com/cardwatch-lab/cardwatch/internal/server"
)

func main() {
	configPath := flag.String("config", "cardwatch.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	// 2. Load Threshold Policy
	policy, err := threshold.LoadPolicy(cfg.Thresholds.Path)
	if err != nil {
		slog.Error("Failed to load threshold policy", "path", cfg.Thresholds.Path, "error", err)
		os.Exit(1)
	}

	// 3. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 3.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	aggStore := postgres.NewAggregateAdapter(dbAdapter.DB())

	// 4. Initialize Notification Channel
	var notifier notify.Notifier
	switch cfg.Notify.Mode {
	case "webhook":
		notifier = notify.NewWebhookNotifier(notify.WebhookConfig{
			DailyURL:   cfg.Notify.DailyURL,
			WeeklyURL:  cfg.Notify.WeeklyURL,
			MonthlyURL: cfg.Notify.MonthlyURL,
			ErrorURL:   cfg.Notify.ErrorURL,
			Timeout:    cfg.Notify.EffectiveTimeout(),
		})
	default:
		notifier = notify.NewLogNotifier()
	}

	// 5. Initialize Services
	aggregator := aggregation.NewService(aggStore, notifier, policy)
	ingestionSvc := ingestion.NewService(dbAdapter, aggStore, aggregator, cfg.Server.MaxBodySizeMB)
	scheduleSvc := schedule.NewService(aggStore, notifier)
	recalcSvc := recalc.NewService(dbAdapter, aggregator, recalc.Options{
		BatchSize:  cfg.Recalc.BatchSize,
		BatchPause: cfg.Recalc.EffectiveBatchPause(),
	})

	// 6. Initialize Server
	srv := server.New(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)
	scheduleSvc.RegisterRoutes(srv.Engine)
	recalcSvc.RegisterRoutes(srv.Engine)

	// 7. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Schedule.Enabled {
		daemon, err := schedule.NewDaemon(scheduleSvc, cfg.Schedule.RunAt)
		if err != nil {
			slog.Error("Invalid schedule.run_at", "value", cfg.Schedule.RunAt, "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			return daemon.Start(gctx)
		})
	} else {
		slog.Info("Schedule daemon disabled by config")
	}

	g.Go(func() error {
		return srv.Run(gctx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("Service stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}
