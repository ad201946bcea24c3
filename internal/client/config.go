package client

import (
	"os"
	"strings"
	"time"
)

// Config holds runtime settings for the terminal client.
type Config struct {
	APIURL   string
	Timeout  time.Duration
	LogLevel string
}

// LoadConfig reads API_URL, API_TIMEOUT and LOG_LEVEL, falling back to a
// local server on port 5000.
func LoadConfig() Config {
	cfg := Config{
		APIURL:   "http://localhost:5000",
		Timeout:  10 * time.Second,
		LogLevel: "warn",
	}
	if v := strings.TrimSpace(os.Getenv("API_URL")); v != "" {
		cfg.APIURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("API_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Timeout = d
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg
}
