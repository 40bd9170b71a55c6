// Package main polls the military ADS-B feed and republishes every aircraft
// item onto the message bus keyed by its hex identifier.
//
// Usage:
//
//	adsb-poller [options]
//
// Options:
//
//	-config PATH      TOML configuration file (env: MILTRACKER_CONFIG)
//	-feed-url URL     Feed endpoint (env: FEED_URL)
//	-interval DUR     Poll interval, e.g. 10s (env: POLL_INTERVAL)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"miltracker/internal/adsb"
	"miltracker/internal/api"
	"miltracker/internal/bus"
	"miltracker/internal/config"
	"miltracker/internal/logging"
	"miltracker/internal/metrics"
	"miltracker/internal/poller"
)

func main() {
	configPath := flag.String("config", envOrDefault("MILTRACKER_CONFIG", ""), "Path to TOML config file")
	feedURL := flag.String("feed-url", "", "Feed endpoint (overrides config)")
	interval := flag.Duration("interval", 0, "Poll interval (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *feedURL != "" {
		cfg.Poller.FeedURL = *feedURL
	}
	if *interval > 0 {
		cfg.Poller.Interval = *interval
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "adsb-poller")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("adsb-poller failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	m := metrics.NewCollector()
	ops := api.NewOps(m.Registry())

	pub, err := bus.OpenPublisher(ctx, cfg.Bus)
	if err != nil {
		return fmt.Errorf("open bus: %w", err)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logger.Warn("closing bus publisher", zap.Error(err))
		}
	}()

	client := adsb.NewClient(cfg.Poller.FeedURL, cfg.Poller.Timeout)
	p := poller.New(client, pub, cfg.Poller.Interval, m, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Serve(gctx, cfg.Metrics.Addr, ops.Router(), logger)
	})
	g.Go(func() error {
		return p.Run(gctx)
	})

	ops.SetReady(true)
	logger.Info("adsb-poller started",
		zap.String("feed", client.URL()),
		zap.Duration("interval", cfg.Poller.Interval.Round(time.Millisecond)),
		zap.String("bus", cfg.Bus.Kind),
		zap.String("topic", cfg.Bus.Topic))

	return g.Wait()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
