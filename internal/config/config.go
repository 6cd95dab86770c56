package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the agent desk daemon
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string

	// Platform endpoints. The duplex channel URL is derived from PlatformURL.
	PlatformURL string

	// Transport reconnection policy
	ReconnectBaseInterval time.Duration
	ReconnectMaxAttempts  int

	// WebSocket write deadline
	WSWriteTimeout time.Duration

	// Control API auth
	JWKSURL  string
	SkipAuth bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:           getEnv("PORT", "8090"),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		PlatformURL:    getEnv("PLATFORM_URL", "http://localhost:8080"),
		JWKSURL:        getEnv("JWKS_URL", ""),
		SkipAuth:       getEnv("SKIP_AUTH", "") == "true",
	}

	baseInterval, err := strconv.Atoi(getEnv("RECONNECT_BASE_INTERVAL", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECONNECT_BASE_INTERVAL: %w", err)
	}
	config.ReconnectBaseInterval = time.Duration(baseInterval) * time.Second

	maxAttempts, err := strconv.Atoi(getEnv("RECONNECT_MAX_ATTEMPTS", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid RECONNECT_MAX_ATTEMPTS: %w", err)
	}
	config.ReconnectMaxAttempts = maxAttempts

	wsWriteTimeout, err := strconv.Atoi(getEnv("WS_WRITE_TIMEOUT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_WRITE_TIMEOUT: %w", err)
	}
	config.WSWriteTimeout = time.Duration(wsWriteTimeout) * time.Second

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return config, nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
