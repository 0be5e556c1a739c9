// Package config loads server configuration from environment variables.
package config

import (
	"os"
	"strconv"
)

// Config holds server configuration.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string
	// LogLevel is one of DEBUG, INFO, WARN, ERROR.
	LogLevel string

	// DatabaseURL selects the postgres journal when set. Takes precedence
	// over SQLitePath.
	DatabaseURL string
	// SQLitePath is the sqlite journal file. Empty disables persistence.
	SQLitePath string

	// RedisAddr enables the aggregation cache when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// SourceDaemonURL is the base URL of the power-source daemon.
	SourceDaemonURL string

	// JWTSecret signs and verifies admin bearer tokens. Empty fails every
	// admin request closed.
	JWTSecret string
	// PolicyPath is the YAML authorization policy. Empty denies every
	// mutation.
	PolicyPath string

	// RateLimitRPS and RateLimitBurst tune the per-IP limiter. Zero RPS
	// disables rate limiting.
	RateLimitRPS   int
	RateLimitBurst int

	// OTLPEndpoint enables trace and metric export when set.
	OTLPEndpoint string
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		ListenAddr:      getenv("LISTEN_ADDR", ":8080"),
		LogLevel:        getenv("LOG_LEVEL", "INFO"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SQLitePath:      os.Getenv("SQLITE_PATH"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         getenvInt("REDIS_DB", 0),
		SourceDaemonURL: getenv("SOURCE_DAEMON_URL", "http://localhost:9980"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		PolicyPath:      os.Getenv("AUTHZ_POLICY_PATH"),
		RateLimitRPS:    getenvInt("RATE_LIMIT_RPS", 50),
		RateLimitBurst:  getenvInt("RATE_LIMIT_BURST", 100),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}
