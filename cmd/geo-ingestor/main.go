// Package main runs the geo indexer, which consumes the position stream under
// its own consumer group and writes one GeoJSON/WKT document per sighting to
// ClickHouse.
//
// Usage:
//
//	geo-ingestor [-config PATH]
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
	"miltracker/internal/geo"
	"miltracker/internal/logging"
	"miltracker/internal/metrics"
	"miltracker/internal/storage"
)

func main() {
	configPath := flag.String("config", envOrDefault("MILTRACKER_CONFIG", ""), "Path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "geo-ingestor")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("geo-ingestor failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	m := metrics.NewCollector()
	ops := api.NewOps(m.Registry())

	ch, err := storage.OpenClickHouse(ctx, cfg.ClickHouse)
	if err != nil {
		return fmt.Errorf("open clickhouse: %w", err)
	}
	defer ch.Close()

	if err := ch.CreateSchema(ctx); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	indexed, err := ch.CountGeoDocuments(ctx, "")
	if err != nil {
		return fmt.Errorf("count geo documents: %w", err)
	}
	logger.Info("geo index ready", zap.Uint64("documents", indexed))

	busCfg := cfg.Bus
	busCfg.Group = cfg.Geo.Group
	busCfg.Consumer = ""
	src, err := bus.OpenSource(ctx, busCfg)
	if err != nil {
		return fmt.Errorf("open bus: %w", err)
	}

	indexer := geo.NewIndexer(ch, geo.NewConverter(nil), m, logger)
	loop := consumer.New(src, indexer, m, logger, cfg.Consumer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Serve(gctx, cfg.Metrics.Addr, ops.Router(), logger)
	})
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

	ops.SetReady(true)
	logger.Info("geo-ingestor started",
		zap.String("bus", busCfg.Kind),
		zap.String("topic", busCfg.Topic),
		zap.String("group", busCfg.Group))

	return g.Wait()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
