// Package env provides utilities for working with environment variables.
package env

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads .env.local and .env from the working directory when present.
// Variables already set in the process environment win.
func Load() {
	for _, f := range []string{".env.local", ".env"} {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

// Get returns the value of the environment variable or the default if not set.
func Get(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetInt parses an integer variable, falling back on absence or parse failure.
func GetInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return defaultValue
	}
	return v
}

// GetDuration parses a Go duration string such as "60s" or "15m".
func GetDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return defaultValue
	}
	return v
}

// GetBool accepts the usual strconv spellings ("1", "true", "false", ...).
func GetBool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return defaultValue
	}
	return v
}
