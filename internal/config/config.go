// Package config loads application configuration from environment variables.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	BackendDisk  = "disk"
	BackendMinio = "minio"
)

// Config holds all runtime configuration for the service.
type Config struct {
	Port     string
	AppEnv   string
	LogLevel slog.Level

	// PublicBaseURL prefixes generated download links, e.g.
	// "https://drop.example". Empty means derive it from each request.
	PublicBaseURL string

	MaxUploadBytes  int64
	DeliveryTimeout time.Duration
	WriteTimeout    time.Duration

	StorageBackend string
	UploadDir      string

	// Object storage (S3-compatible: MinIO locally, any S3 provider in production)
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StoragePrefix    string
	StorageUseSSL    bool

	// DatabaseURL enables the Postgres orphan ledger. Empty keeps it in memory.
	DatabaseURL   string
	SweepInterval time.Duration
}

// Load reads configuration from a .env file (if present) and environment variables.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading from environment")
	}

	return &Config{
		Port:     getEnv("PORT", "8080"),
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getLevel("LOG_LEVEL", slog.LevelInfo),

		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),

		MaxUploadBytes:  getInt64("MAX_UPLOAD_BYTES", 256<<20),
		DeliveryTimeout: getDuration("DELIVERY_TIMEOUT", 10*time.Minute),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 15*time.Minute),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", BackendDisk)),
		UploadDir:      getEnv("UPLOAD_DIR", "uploads"),

		StorageEndpoint:  getEnv("STORAGE_ENDPOINT", "localhost:9000"),
		StorageAccessKey: getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
		StorageSecretKey: getEnv("STORAGE_SECRET_KEY", "minioadmin"),
		StorageBucket:    getEnv("STORAGE_BUCKET", "oncedrop"),
		StoragePrefix:    getEnv("STORAGE_PREFIX", "blobs/"),
		StorageUseSSL:    getEnv("STORAGE_USE_SSL", "false") == "true",

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		SweepInterval: getDuration("SWEEP_INTERVAL", 5*time.Minute),
	}
}

// IsProduction returns true when the app is running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		slog.Warn("invalid integer, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

func getLevel(key string, fallback slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		slog.Warn("invalid log level, using default", "key", key, "value", v)
		return fallback
	}
	return lvl
}
