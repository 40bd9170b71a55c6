// Package main runs the ingestion worker that turns bus events into aircraft,
// position and track rows.
//
// Usage:
//
//	db-ingestor [options]
//
// Options:
//
//	-config PATH   TOML configuration file (env: MILTRACKER_CONFIG)
//	-sweep         Enable the idle track sweeper (env: SWEEPER_ENABLED)
//
// Every configuration field can also be set from the environment; see
// internal/config.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"miltracker/internal/api"
	"miltracker/internal/bus"
	"miltracker/internal/config"
	"miltracker/internal/consumer"
	"miltracker/internal/ingest"
	"miltracker/internal/logging"
	"miltracker/internal/metrics"
	"miltracker/internal/storage"
	"miltracker/internal/sweep"
)

func main() {
	configPath := flag.String("config", envOrDefault("MILTRACKER_CONFIG", ""), "Path to TOML config file")
	sweepFlag := flag.Bool("sweep", false, "Enable the idle track sweeper")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *sweepFlag {
		cfg.Sweeper.Enabled = true
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "db-ingestor")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("db-ingestor failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	m := metrics.NewCollector()
	ops := api.NewOps(m.Registry())

	store, err := storage.OpenTrackStore(ctx, cfg.Storage())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	if err := store.CreateSchema(ctx); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	src, err := bus.OpenSource(ctx, cfg.Bus)
	if err != nil {
		return fmt.Errorf("open bus: %w", err)
	}

	coordinator := ingest.NewCoordinator(store, m, logger)
	loop := consumer.New(src, coordinator, m, logger, cfg.Consumer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return api.Serve(gctx, cfg.Metrics.Addr, ops.Router(), logger)
	})

	// The loop finishes its current batch on shutdown instead of being cut
	// off mid-fetch.
	g.Go(func() error {
		return loop.Run(context.Background())
	})
	g.Go(func() error {
		<-gctx.Done()
		ops.SetReady(false)
		loop.Shutdown()
		<-loop.Done()
		logger.Info("consumer drained")
		return nil
	})

	if cfg.Sweeper.Enabled {
		sw := sweep.New(store, cfg.Sweeper.Interval, cfg.Sweeper.Idle, m, logger)
		g.Go(func() error {
			return sw.Run(gctx)
		})
	}

	ops.SetReady(true)
	logger.Info("db-ingestor started",
		zap.String("store", cfg.Store.Driver),
		zap.String("bus", cfg.Bus.Kind),
		zap.String("topic", cfg.Bus.Topic),
		zap.String("group", cfg.Bus.Group),
		zap.Bool("sweeper", cfg.Sweeper.Enabled))

	return g.Wait()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
