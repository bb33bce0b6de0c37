package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process-level configuration. Values come from the
// environment so main stays lean; unset stores fall back to in-memory
// implementations.
type Config struct {
	Server   Server
	Postgres Postgres
	Redis    Redis
	Kafka    Kafka
	Lender   Lender
	Backend  Backend
}

type Server struct {
	Addr          string
	JWTSigningKey string
}

type Postgres struct {
	// URL is the lib/pq connection string. Empty means in-memory stores.
	URL string
}

type Redis struct {
	// URL is a redis:// connection URL. Empty means the in-memory price
	// store.
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Kafka struct {
	// Brokers is a comma-separated seed list. Empty disables event
	// publishing.
	Brokers []string
	Topic   string
}

type Lender struct {
	// Flavor is plain, multi-backend, or fx.
	Flavor         string
	LedgerID       string
	FundingAsset   string
	Customer       string
	Account        string
	Owner          string
	PriceTolerance time.Duration
}

type Backend struct {
	// EngineURL is the remote issuing engine. Required.
	EngineURL string
	ID        string
	Pool      string
	// EnginePrincipal is the identity payout callbacks arrive as.
	EnginePrincipal string
	Account         string
	PricerPrincipal string
	PricerKey       string
}

// FromEnv builds the process configuration from environment variables.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:          envOr("FLOWLEND_ADDR", ":8080"),
			JWTSigningKey: envOr("FLOWLEND_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		},
		Postgres: Postgres{
			URL: os.Getenv("FLOWLEND_POSTGRES_URL"),
		},
		Redis: Redis{
			URL:          os.Getenv("FLOWLEND_REDIS_URL"),
			PoolSize:     envInt("FLOWLEND_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("FLOWLEND_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("FLOWLEND_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("FLOWLEND_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("FLOWLEND_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers: splitList(os.Getenv("FLOWLEND_KAFKA_BROKERS")),
			Topic:   envOr("FLOWLEND_KAFKA_TOPIC", "flowlend.ledger.events"),
		},
		Lender: Lender{
			Flavor:         envOr("FLOWLEND_FLAVOR", "plain"),
			LedgerID:       os.Getenv("FLOWLEND_LEDGER_ID"),
			FundingAsset:   envOr("FLOWLEND_FUNDING_ASSET", "usd-token"),
			Customer:       os.Getenv("FLOWLEND_CUSTOMER"),
			Account:        os.Getenv("FLOWLEND_ACCOUNT"),
			Owner:          os.Getenv("FLOWLEND_OWNER"),
			PriceTolerance: envDuration("FLOWLEND_PRICE_TOLERANCE", time.Hour),
		},
		Backend: Backend{
			EngineURL:       os.Getenv("FLOWLEND_ENGINE_URL"),
			ID:              envOr("FLOWLEND_BACKEND_ID", "rm-default"),
			Pool:            envOr("FLOWLEND_BACKEND_POOL", "pool-default"),
			EnginePrincipal: os.Getenv("FLOWLEND_BACKEND_ENGINE_PRINCIPAL"),
			Account:         os.Getenv("FLOWLEND_BACKEND_ACCOUNT"),
			PricerPrincipal: os.Getenv("FLOWLEND_PRICER_PRINCIPAL"),
			PricerKey:       os.Getenv("FLOWLEND_PRICER_KEY"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
