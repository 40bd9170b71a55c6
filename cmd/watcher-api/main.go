// Package main serves the read-only watcher API over stored flights.
//
// Usage:
//
//	watcher-api [options]
//
// Options:
//
//	-config PATH   TOML configuration file (env: MILTRACKER_CONFIG)
//	-addr ADDR     API listen address (env: HTTP_ADDR)
//
// API Endpoints:
//
//	GET  /list-flights?limit=&offset=   Latest position per aircraft.
//	GET  /list-flight/{id}              One position by id.
//	GET  /flight-track/{id}             Position history of the aircraft behind a position id.
//	POST /geobox-list-flight            Positions from the last hour inside {north,south,east,west}.
//	GET  /tracks/{id}                   Stitched track as a GeoJSON LineString feature.
//	GET  /aircraft/{hex}                Aircraft identity.
//	GET  /aircraft/{hex}/tracks         Tracks of one aircraft as a FeatureCollection.
//	GET  /health, /ready
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
	"miltracker/internal/config"
	"miltracker/internal/logging"
	"miltracker/internal/metrics"
	"miltracker/internal/storage"
)

func main() {
	configPath := flag.String("config", envOrDefault("MILTRACKER_CONFIG", ""), "Path to TOML config file")
	addr := flag.String("addr", "", "API listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "watcher-api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("watcher-api failed", zap.Error(err))
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

	server := api.NewWatcherServer(store, logger, m)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Serve(gctx, cfg.Metrics.Addr, ops.Router(), logger)
	})
	g.Go(func() error {
		return api.Serve(gctx, cfg.HTTP.Addr, server.Router(), logger)
	})

	ops.SetReady(true)
	logger.Info("watcher-api started", zap.String("addr", cfg.HTTP.Addr), zap.String("store", cfg.Store.Driver))

	return g.Wait()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
