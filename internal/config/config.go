// Package config loads the broker's startup configuration from the
// environment, applying the defaults from the external interfaces spec.
// Load fails fast when MAX_CONCURRENT_EXECUTIONS is not positive or
// EXECUTION_BACKEND is not a known backend; an integer variable that does
// not parse falls back to its default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-recognized setting (spec.md §6).
type Config struct {
	Environment string

	MaxConcurrentExecutions int

	RateLimitPoints        int
	RateLimitWindow         time.Duration
	RateLimitBlockDuration  time.Duration

	MetadataStoreHost     string
	MetadataStorePort     int
	MetadataStorePassword string
	MetadataStoreDB       int

	SessionTimeout    time.Duration
	CleanupInterval   time.Duration
	MaxSessionsPerClient int

	WebIDEHost string
	WebIDEPort int

	SharedKey string

	ExecutionBackend string // "subprocess" (default) or "docker"

	DataRoot string // root for sessions/ and venvs/, spec.md §6
}

// Load reads .env, if present, via godotenv (a no-op when the file is
// absent), then populates a Config from the environment, applying defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment:             getEnv("ENVIRONMENT", "development"),
		MaxConcurrentExecutions: getEnvInt("MAX_CONCURRENT_EXECUTIONS", 10),
		RateLimitPoints:         getEnvInt("RATE_LIMIT_POINTS", 100),
		RateLimitWindow:         getEnvDurationSeconds("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitBlockDuration:  getEnvDurationSeconds("RATE_LIMIT_BLOCK_SECONDS", 300),
		MetadataStoreHost:       getEnv("METADATA_STORE_HOST", "localhost"),
		MetadataStorePort:       getEnvInt("METADATA_STORE_PORT", 6379),
		MetadataStorePassword:   getEnv("METADATA_STORE_PASSWORD", ""),
		MetadataStoreDB:         getEnvInt("METADATA_STORE_DB", 0),
		SessionTimeout:          getEnvDurationHours("SESSION_TIMEOUT_HOURS", 24),
		CleanupInterval:         getEnvDurationMinutes("CLEANUP_INTERVAL_MINUTES", 60),
		MaxSessionsPerClient:    getEnvInt("MAX_SESSIONS_PER_CLIENT", 10),
		WebIDEHost:              getEnv("WEB_IDE_HOST", "0.0.0.0"),
		WebIDEPort:              getEnvInt("WEB_IDE_PORT", 0),
		SharedKey:               getEnv("BROKER_SHARED_KEY", ""),
		ExecutionBackend:        getEnv("EXECUTION_BACKEND", "subprocess"),
		DataRoot:                getEnv("BROKER_DATA_ROOT", "/var/lib/sessionbroker"),
	}

	if cfg.MaxConcurrentExecutions <= 0 {
		return nil, fmt.Errorf("config: MAX_CONCURRENT_EXECUTIONS must be positive")
	}
	if cfg.ExecutionBackend != "subprocess" && cfg.ExecutionBackend != "docker" {
		return nil, fmt.Errorf("config: EXECUTION_BACKEND must be \"subprocess\" or \"docker\", got %q", cfg.ExecutionBackend)
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvDurationSeconds(key string, defSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defSeconds)) * time.Second
}

func getEnvDurationMinutes(key string, defMinutes int) time.Duration {
	return time.Duration(getEnvInt(key, defMinutes)) * time.Minute
}

func getEnvDurationHours(key string, defHours int) time.Duration {
	return time.Duration(getEnvInt(key, defHours)) * time.Hour
}
