package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds runtime configuration for the governance engine.
type Config struct {
	ProgramID    string
	StoreBackend string
	DatabaseURL  string
	SQLitePath   string
	RedisAddr    string
	RedisDB      int
	LogLevel     string
	OTelEnabled  bool
	OTelEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	programID := os.Getenv("SMART_ACCOUNT_PROGRAM_ID")
	if programID == "" {
		programID = "SMRTzfY6DfH5ik3TKiyLFfXexV8uSG3d2UksSCYdunG"
	}

	backend := strings.ToLower(os.Getenv("STORE_BACKEND"))
	if backend == "" {
		backend = "memory"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://smartaccount@localhost:5432/smartaccount?sslmode=disable"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "smartaccount.db"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisDB, err := strconv.Atoi(os.Getenv("REDIS_DB"))
	if err != nil {
		redisDB = 0
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	endpoint := os.Getenv("OTEL_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	return &Config{
		ProgramID:    programID,
		StoreBackend: backend,
		DatabaseURL:  dbURL,
		SQLitePath:   sqlitePath,
		RedisAddr:    redisAddr,
		RedisDB:      redisDB,
		LogLevel:     logLevel,
		OTelEnabled:  os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint: endpoint,
	}
}

// SlogLevel maps LogLevel onto a slog level. Unknown names fall back to Info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
