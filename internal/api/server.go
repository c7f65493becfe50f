// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/portfolio-dashboard/internal/circuitbreaker"
	"github.com/portfolio-dashboard/internal/logging"
	"github.com/portfolio-dashboard/internal/ratelimit"
	"github.com/portfolio-dashboard/internal/service"
	"github.com/portfolio-dashboard/internal/storage"
	"github.com/portfolio-dashboard/internal/types"
)

// Service interfaces for dependency injection and testing

// BalancesService defines the aggregation operations used by the API
type BalancesService interface {
	GetBalances(ctx context.Context, address string, chains []types.ChainID) (*service.BalancesResponse, bool, error)
}

// DeFiService defines the protocol position operations used by the API
type DeFiService interface {
	GetAavePositions(ctx context.Context, address string, chains []types.ChainID) (*service.AavePositionsSummary, error)
	GetLidoPosition(ctx context.Context, address string) (*service.LidoPosition, bool, error)
	GetRocketPoolPosition(ctx context.Context, address string) (*service.RocketPoolPosition, bool, error)
}

// SnapshotService defines the snapshot operations used by the API
type SnapshotService interface {
	CreateSnapshot(ctx context.Context, address string, tokens []service.SnapshotTokenInput) (*service.SnapshotReceipt, error)
	GetLatestSnapshot(ctx context.Context, address string) (*service.SnapshotView, error)
	ListSnapshots(ctx context.Context, address string, limit, offset int) ([]service.SnapshotSummaryView, error)
	GetSnapshotByID(ctx context.Context, id string) (*service.SnapshotView, error)
}

// RateLimiter counts requests against fixed windows
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) ratelimit.Result
}

// HealthCheck reports whether one backing dependency is reachable
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	balances   BalancesService
	defi       DeFiService
	snapshots  SnapshotService
	limiter    RateLimiter
	cache      *storage.CacheStore
	monitor    *service.FetchMonitor
	breakers   []*circuitbreaker.Breaker
	checks     map[string]HealthCheck
	logger     *logging.Logger
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RateLimit       int           // requests per window per client, address and route
	RateLimitWindow time.Duration // fixed window length
}

// Dependencies are the collaborators of the server. Cache, Monitor,
// Breakers and Checks only feed the health endpoint and may be nil.
type Dependencies struct {
	Balances  BalancesService
	DeFi      DeFiService
	Snapshots SnapshotService
	Limiter   RateLimiter
	Cache     *storage.CacheStore
	Monitor   *service.FetchMonitor
	Breakers  []*circuitbreaker.Breaker
	Checks    map[string]HealthCheck
	Logger    *logging.Logger
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps Dependencies) *Server {
	if config.RateLimit <= 0 {
		config.RateLimit = ratelimit.DefaultLimit
	}
	if config.RateLimitWindow <= 0 {
		config.RateLimitWindow = ratelimit.DefaultWindow
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	s := &Server{
		router:    mux.NewRouter(),
		balances:  deps.Balances,
		defi:      deps.DeFi,
		snapshots: deps.Snapshots,
		limiter:   deps.Limiter,
		cache:     deps.Cache,
		monitor:   deps.Monitor,
		breakers:  deps.Breakers,
		checks:    deps.Checks,
		logger:    logger.WithField("component", "api"),
		config:    config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Order matters: logging sees the status written by recovery, and
	// recovery writes its 500 through the gzip writer before it is closed
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(CompressionMiddleware)
	s.router.Use(RecoveryMiddleware(s.logger))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Preflight requests only need the CORS middleware
	s.router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	api := s.router.PathPrefix("/api").Subrouter()

	// Balances
	api.HandleFunc("/balances", s.handleGetBalances).Methods(http.MethodGet)
	api.HandleFunc("/balances/export", s.handleExportBalances).Methods(http.MethodGet)

	// Protocol positions
	api.HandleFunc("/defi/aave", s.handleGetAave).Methods(http.MethodGet)
	api.HandleFunc("/defi/lido", s.handleGetLido).Methods(http.MethodGet)
	api.HandleFunc("/defi/rocket-pool", s.handleGetRocketPool).Methods(http.MethodGet)

	// Snapshots; latest must be registered before {id}
	api.HandleFunc("/snapshots", s.handleListSnapshots).Methods(http.MethodGet)
	api.HandleFunc("/snapshots", s.handleCreateSnapshot).Methods(http.MethodPost)
	api.HandleFunc("/snapshots/latest", s.handleGetLatestSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/snapshots/{id}", s.handleGetSnapshot).Methods(http.MethodGet)
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth reports dependency reachability plus cache and upstream stats
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]interface{}{
		"status":       status,
		"service":      "portfolio-dashboard",
		"dependencies": deps,
	}
	if s.cache != nil {
		body["cache"] = s.cache.Stats()
	}
	if s.monitor != nil {
		body["chains"] = s.monitor.Stats()
		body["upstream"] = s.monitor.CheckHealth()
	}
	if len(s.breakers) > 0 {
		stats := make([]circuitbreaker.Stats, 0, len(s.breakers))
		for _, b := range s.breakers {
			stats = append(stats, b.Stats())
		}
		body["circuitBreakers"] = stats
	}

	respondJSON(w, code, body)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
