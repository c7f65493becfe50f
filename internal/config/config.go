// Package config provides configuration management for the portfolio dashboard backend.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Cache       CacheConfig
	RateLimit   RateLimitConfig
	Aggregation AggregationConfig
	Providers   ProvidersConfig
	Snapshot    SnapshotConfig
	Logging     LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres       PostgresConfig
	Redis          RedisConfig
	MigrationsPath string
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection URL shared by the pool and golang-migrate.
// Credentials are escaped, so an empty password or one holding @ / : is safe.
func (c *PostgresConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// CacheConfig holds response cache TTLs
type CacheConfig struct {
	BalancesTTL time.Duration
	DeFiTTL     time.Duration
}

// RateLimitConfig holds fixed-window limits applied per client, address and route
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
	// Atomic switches the Redis window store to a single Lua check-and-increment
	Atomic bool
}

// AggregationConfig bounds the per-chain fan-out
type AggregationConfig struct {
	ChainTimeout      time.Duration
	MetadataBatchSize int
}

// ProvidersConfig holds upstream API configuration
type ProvidersConfig struct {
	AlchemyAPIKey           string
	AlchemyURLTemplate      string // fmt template: network, key
	CoinGeckoBaseURL        string
	CoinGeckoAPIKey         string
	CoinGeckoRequestsPerMin int
	TheGraphAPIKey          string
	AaveSubgraphs           map[string]string // chain -> GraphQL endpoint
	LidoAPIURL              string
	RocketPoolAPIURL        string
	EthereumRPCURL          string
}

// AlchemyURL returns the JSON-RPC endpoint for an Alchemy network, or "" when no key is configured
func (p *ProvidersConfig) AlchemyURL(network string) string {
	if p.AlchemyAPIKey == "" || network == "" {
		return ""
	}
	return fmt.Sprintf(p.AlchemyURLTemplate, network, p.AlchemyAPIKey)
}

// SnapshotConfig holds the periodic snapshot worker configuration
type SnapshotConfig struct {
	Schedule  string
	Watchlist []string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// Default Aave v3 subgraph deployment ids on The Graph's decentralized network
var defaultAaveSubgraphIDs = map[string]string{
	"ethereum": "Cd2gEDVeqnjBn1hSeqFMitw8Q1iiyV9FYUZkLNRcL87g",
	"polygon":  "Co2URyXjnxaw8WqxKyVHdirq9Ahhm5vcTs4dMedAq211",
	"arbitrum": "DLuE98kEb5pQNXAcKFQGQgfSQ57Xdou4jnVbAEqMfy3B",
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional; variables may be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "portfolio_dashboard"),
				User:           getEnv("POSTGRES_USER", "dashboard"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Cache: CacheConfig{
			BalancesTTL: getEnvAsDuration("CACHE_BALANCES_TTL", 60*time.Second),
			DeFiTTL:     getEnvAsDuration("CACHE_DEFI_TTL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Limit:  getEnvAsInt("RATE_LIMIT_REQUESTS", 30),
			Window: getEnvAsDuration("RATE_LIMIT_WINDOW", 60*time.Second),
			Atomic: getEnvAsBool("RATE_LIMIT_ATOMIC", false),
		},
		Aggregation: AggregationConfig{
			ChainTimeout:      getEnvAsDuration("AGGREGATION_CHAIN_TIMEOUT", 15*time.Second),
			MetadataBatchSize: getEnvAsInt("AGGREGATION_METADATA_BATCH_SIZE", 25),
		},
		Providers: ProvidersConfig{
			AlchemyAPIKey:           getEnv("ALCHEMY_API_KEY", ""),
			AlchemyURLTemplate:      getEnv("ALCHEMY_URL_TEMPLATE", "https://%s.g.alchemy.com/v2/%s"),
			CoinGeckoBaseURL:        getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
			CoinGeckoAPIKey:         getEnv("COINGECKO_API_KEY", ""),
			CoinGeckoRequestsPerMin: getEnvAsInt("COINGECKO_REQUESTS_PER_MINUTE", 30),
			TheGraphAPIKey:          getEnv("THEGRAPH_API_KEY", ""),
			LidoAPIURL:              getEnv("LIDO_API_URL", "https://eth-api.lido.fi"),
			RocketPoolAPIURL:        getEnv("ROCKETPOOL_API_URL", "https://rocketpool.net"),
			EthereumRPCURL:          getEnv("ETHEREUM_RPC_URL", ""),
		},
		Snapshot: SnapshotConfig{
			Schedule:  getEnv("SNAPSHOT_SCHEDULE", "0 * * * *"),
			Watchlist: splitList(getEnv("SNAPSHOT_WATCHLIST", "")),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	config.Providers.AaveSubgraphs = loadAaveSubgraphs(config.Providers.TheGraphAPIKey)

	if config.Providers.EthereumRPCURL == "" {
		config.Providers.EthereumRPCURL = config.Providers.AlchemyURL("eth-mainnet")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects configurations the limiter and aggregator cannot run with
func (c *Config) Validate() error {
	if c.RateLimit.Limit <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive, got %d", c.RateLimit.Limit)
	}
	if c.RateLimit.Window < time.Second {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be at least 1s, got %s", c.RateLimit.Window)
	}
	if c.Aggregation.MetadataBatchSize <= 0 {
		return fmt.Errorf("AGGREGATION_METADATA_BATCH_SIZE must be positive, got %d", c.Aggregation.MetadataBatchSize)
	}
	if c.Aggregation.ChainTimeout <= 0 {
		return fmt.Errorf("AGGREGATION_CHAIN_TIMEOUT must be positive, got %s", c.Aggregation.ChainTimeout)
	}
	return nil
}

// loadAaveSubgraphs resolves one GraphQL endpoint per chain. An explicit
// AAVE_SUBGRAPH_<CHAIN> wins over the gateway URL built from the API key.
func loadAaveSubgraphs(apiKey string) map[string]string {
	endpoints := make(map[string]string)
	for chain, id := range defaultAaveSubgraphIDs {
		url := getEnv("AAVE_SUBGRAPH_"+strings.ToUpper(chain), "")
		if url == "" && apiKey != "" {
			url = fmt.Sprintf("https://gateway.thegraph.com/api/%s/subgraphs/id/%s", apiKey, id)
		}
		if url != "" {
			endpoints[chain] = url
		}
	}
	return endpoints
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
