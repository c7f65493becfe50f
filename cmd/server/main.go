// Package main provides the API server entry point for the portfolio dashboard backend.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portfolio-dashboard/internal/adapter"
	"github.com/portfolio-dashboard/internal/api"
	"github.com/portfolio-dashboard/internal/circuitbreaker"
	"github.com/portfolio-dashboard/internal/config"
	"github.com/portfolio-dashboard/internal/logging"
	"github.com/portfolio-dashboard/internal/ratelimit"
	"github.com/portfolio-dashboard/internal/service"
	"github.com/portfolio-dashboard/internal/storage"
	"github.com/portfolio-dashboard/internal/types"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.NewLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Portfolio dashboard API starting")

	// Connect to Postgres
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	checks := map[string]api.HealthCheck{
		"postgres": postgres.Ping,
	}

	// Redis is optional: the cache and the rate limiter both fail open
	var kv storage.KeyValueStore
	limiterOpts := ratelimit.Options{Atomic: cfg.RateLimit.Atomic, Logger: logger}
	redisCache, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, caching disabled and rate limits are per instance")
	} else {
		defer redisCache.Close()
		kv = redisCache
		limiterOpts.Store = ratelimit.NewRedisStore(redisCache.Client())
		checks["redis"] = redisCache.Ping
	}
	cache := storage.NewCacheStore(kv, logger)

	// Upstream clients
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

	subgraphs := make(map[types.ChainID]string, len(cfg.Providers.AaveSubgraphs))
	for name, url := range cfg.Providers.AaveSubgraphs {
		if chain, ok := types.ParseChainID(name); ok {
			subgraphs[chain] = url
		}
	}
	aave := adapter.NewSubgraphClient(subgraphs, 0)
	staking := adapter.NewStakingAPIClient(cfg.Providers.LidoAPIURL, cfg.Providers.RocketPoolAPIURL, 0)

	var reader service.TokenReader
	dialCtx, cancelDial := context.WithTimeout(context.Background(), 10*time.Second)
	contractReader, ethClient, err := adapter.DialTokenContractReader(dialCtx, cfg.Providers.EthereumRPCURL)
	cancelDial()
	switch {
	case errors.Is(err, adapter.ErrNotConfigured):
		logger.Warn("No Ethereum RPC endpoint configured, staking positions are unavailable")
	case err != nil:
		logger.WithError(err).Warn("Ethereum RPC unavailable, staking positions are unavailable")
	default:
		defer ethClient.Close()
		reader = contractReader
	}

	// Services
	monitor := service.NewFetchMonitor()
	priceBreaker := circuitbreaker.NewBreaker(circuitbreaker.Config{Name: "coingecko", Logger: logger})
	balances := service.NewBalanceService(alchemy, prices, logger).WithPriceBreaker(priceBreaker)
	aggregation := service.NewAggregationService(balances, cache, service.AggregationConfig{
		CacheTTL:     cfg.Cache.BalancesTTL,
		ChainTimeout: cfg.Aggregation.ChainTimeout,
		Monitor:      monitor,
	}, logger)
	defi := service.NewDeFiService(service.DeFiServiceConfig{
		Aave:   aave,
		APR:    staking,
		Reader: reader,
		Prices: prices,
		Cache:  cache,
		TTL:    cfg.Cache.DeFiTTL,
		Logger: logger,
	})
	snapshots := service.NewSnapshotService(storage.NewSnapshotRepository(postgres.Pool()), logger)

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		RateLimit:       cfg.RateLimit.Limit,
		RateLimitWindow: cfg.RateLimit.Window,
	}

	server := api.NewServer(serverConfig, api.Dependencies{
		Balances:  aggregation,
		DeFi:      defi,
		Snapshots: snapshots,
		Limiter:   ratelimit.NewLimiter(limiterOpts),
		Cache:     cache,
		Monitor:   monitor,
		Breakers:  []*circuitbreaker.Breaker{priceBreaker},
		Checks:    checks,
		Logger:    logger,
	})

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
