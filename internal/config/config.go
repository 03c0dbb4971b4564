package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration.
type Config struct {
	ServerPort  string
	FrontendURL string

	// Signing secrets for the two token classes. Both are required and must
	// differ; a missing secret fails startup rather than falling back to a
	// known constant.
	AccessTokenSecret  string
	RefreshTokenSecret string
	TokenIssuer        string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration

	RedisURL    string
	DatabaseURL string
	RabbitMQURL string

	// LedgerBackend selects where refresh records live: "redis" (default)
	// or "postgres" for durable deployments.
	LedgerBackend string

	// Default policy for general traffic.
	RateLimitWindow time.Duration
	RateLimitMax    int
	// Strict policy for sensitive operations (refresh, password reset).
	StrictRateLimitWindow time.Duration
	StrictRateLimitMax    int

	EnableHSTS      bool
	ServerDebugMode bool
	OTELEnabled     bool
	OTELEndpoint    string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ServerPort:            getEnv("SERVER_PORT", "8080"),
		FrontendURL:           getEnv("FRONTEND_URL", "http://localhost:3000"),
		AccessTokenSecret:     getEnv("ACCESS_TOKEN_SECRET", ""),
		RefreshTokenSecret:    getEnv("REFRESH_TOKEN_SECRET", ""),
		TokenIssuer:           getEnv("TOKEN_ISSUER", "genesis-music"),
		AccessTokenTTL:        getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:       getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RabbitMQURL:           getEnv("RABBITMQ_URL", ""),
		LedgerBackend:         getEnv("LEDGER_BACKEND", "redis"),
		RateLimitWindow:       getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitMax:          getEnvInt("RATE_LIMIT_MAX", 100),
		StrictRateLimitWindow: getEnvDuration("STRICT_RATE_LIMIT_WINDOW", time.Minute),
		StrictRateLimitMax:    getEnvInt("STRICT_RATE_LIMIT_MAX", 10),
		EnableHSTS:            getEnvBool("ENABLE_HSTS", false),
		ServerDebugMode:       getEnvBool("SERVER_DEBUG_MODE", false),
		OTELEnabled:           getEnvBool("OTEL_ENABLED", false),
		OTELEndpoint:          getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if cfg.AccessTokenSecret == "" {
		return nil, fmt.Errorf("ACCESS_TOKEN_SECRET is required")
	}
	if cfg.RefreshTokenSecret == "" {
		return nil, fmt.Errorf("REFRESH_TOKEN_SECRET is required")
	}
	if cfg.AccessTokenSecret == cfg.RefreshTokenSecret {
		return nil, fmt.Errorf("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for user lookups during token refresh")
	}
	if cfg.LedgerBackend != "redis" && cfg.LedgerBackend != "postgres" {
		return nil, fmt.Errorf("LEDGER_BACKEND must be \"redis\" or \"postgres\", got %q", cfg.LedgerBackend)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
