// Package config loads server configuration from the environment plus
// an optional YAML deployment profile for ledger thresholds.
package config

import "os"

// Config holds server configuration.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string
	// StoreBackend selects "postgres", "sqlite", or "memory".
	StoreBackend string
	SQLitePath   string
	// BaselineReading seeds the ledger baseline on first init.
	BaselineReading string
	// ProfilePath points at the optional YAML ledger profile.
	ProfilePath string
	RedisAddr   string
	JWTSecret   string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	backend := os.Getenv("STORE_BACKEND")
	if backend == "" {
		backend = "sqlite"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "gridsplit.db"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://gridsplit@localhost:5432/gridsplit?sslmode=disable"
	}

	baseline := os.Getenv("BASELINE_READING")
	if baseline == "" {
		baseline = "0"
	}

	return &Config{
		Port:            port,
		LogLevel:        logLevel,
		DatabaseURL:     dbURL,
		StoreBackend:    backend,
		SQLitePath:      sqlitePath,
		BaselineReading: baseline,
		ProfilePath:     os.Getenv("LEDGER_PROFILE"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
	}
}
