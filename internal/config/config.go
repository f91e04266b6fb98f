package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Backend    BackendConfig
	Cache      CacheConfig
	Log        LogConfig
	MockServer MockServerConfig
}

type MockServerConfig struct {
	Host string
	Port int
	Mode string
}

type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

type CacheConfig struct {
	Path string
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	// A missing .env is fine; env vars alone are enough.
	_ = godotenv.Load()

	cfg := &Config{
		Backend: BackendConfig{
			BaseURL: getEnv("ASSISTANT_BACKEND_URL", "http://localhost:8000"),
			Timeout: getEnvAsDuration("ASSISTANT_REQUEST_TIMEOUT", 60*time.Second),
		},
		Cache: CacheConfig{
			Path: getEnv("ASSISTANT_CACHE_PATH", defaultCachePath()),
		},
		Log: LogConfig{
			Level: getEnv("ASSISTANT_LOG_LEVEL", "info"),
		},
		MockServer: MockServerConfig{
			Host: getEnv("MOCK_SERVER_HOST", "0.0.0.0"),
			Port: getEnvAsInt("MOCK_SERVER_PORT", 8000),
			Mode: getEnv("GIN_MODE", "debug"),
		},
	}

	return cfg, nil
}

func defaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "assistant-cache.db"
	}
	return filepath.Join(home, ".kb-assistant", "cache.db")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
