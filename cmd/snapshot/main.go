// Package main provides the snapshot worker entry point.
// The worker snapshots the configured watchlist on a cron schedule (hourly by default).
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/portfolio-dashboard/internal/adapter"
	"github.com/portfolio-dashboard/internal/circuitbreaker"
	"github.com/portfolio-dashboard/internal/config"
	"github.com/portfolio-dashboard/internal/logging"
	"github.com/portfolio-dashboard/internal/service"
	"github.com/portfolio-dashboard/internal/storage"
	"github.com/portfolio-dashboard/internal/types"
)

func main() {
	once := flag.Bool("once", false, "Capture the watchlist once and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.NewLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))

	if len(cfg.Snapshot.Watchlist) == 0 {
		logger.Fatal("SNAPSHOT_WATCHLIST is empty, nothing to snapshot")
	}

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	// The worker shares the balances cache with the API when Redis is up
	var kv storage.KeyValueStore
	redisCache, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, snapshotting without the balances cache")
	} else {
		defer redisCache.Close()
		kv = redisCache
	}

	alchemy := adapter.NewAlchemyClient(adapter.AlchemyConfig{
		URLFor: func(chain types.ChainID) string {
			return cfg.Providers.AlchemyURL(chain.AlchemyNetwork())
		},
		MetadataBatchSize: cfg.Aggregation.MetadataBatchSize,
	})
	defer alchemy.Close()

	prices := adapter.NewCoinGeckoClient(adapter.CoinGeckoConfig{
		BaseURL:           cfg.Providers.CoinGeckoBaseURL,
		APIKey:            cfg.Providers.CoinGeckoAPIKey,
		RequestsPerMinute: cfg.Providers.CoinGeckoRequestsPerMin,
	})

	aggregation := service.NewAggregationService(
		service.NewBalanceService(alchemy, prices, logger).
			WithPriceBreaker(circuitbreaker.NewBreaker(circuitbreaker.Config{Name: "coingecko", Logger: logger})),
		storage.NewCacheStore(kv, logger),
		service.AggregationConfig{
			CacheTTL:     cfg.Cache.BalancesTTL,
			ChainTimeout: cfg.Aggregation.ChainTimeout,
		},
		logger,
	)
	snapshots := service.NewSnapshotService(storage.NewSnapshotRepository(postgres.Pool()), logger)
	scheduler := service.NewSnapshotScheduler(aggregation, snapshots, cfg.Snapshot.Schedule, cfg.Snapshot.Watchlist, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		if err := scheduler.CaptureAll(ctx); err != nil {
			logger.WithError(err).Fatal("Snapshot capture failed")
		}
		return
	}

	if err := scheduler.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start snapshot scheduler")
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down snapshot worker...")
	cancel()
	if err := scheduler.Stop(); err != nil {
		logger.WithError(err).Warn("Snapshot scheduler did not stop cleanly")
	}
	logger.Info("Worker stopped")
}
