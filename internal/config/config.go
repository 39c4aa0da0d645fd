// Package config loads microstack's process configuration from the
// environment, with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all of microstack's runtime configuration.
type Config struct {
	// Server
	Host string
	Port int
	Addr string
	Env  string

	// Scratch/data layout
	DataDir    string
	RuntimeDir string

	// HTTP
	MaxBodyBytes int64

	// Optional event mirror (see internal/eventbus).
	RedisURL string

	GracefulTimeout time.Duration
	LogLevel        string
}

// Load reads configuration from environment variables and an optional
// .env file in the working directory. A malformed port is a fatal
// startup error rather than a silently ignored default.
func Load() (*Config, error) {
	_ = godotenv.Load()

	host := getEnv("MICROSTACK_HOST", "0.0.0.0")
	portStr := getEnv("MICROSTACK_PORT", "1337")
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid MICROSTACK_PORT %q: must be an integer in [1, 65535]", portStr)
	}

	dataDir := getEnv("MICROSTACK_DATA_DIR", "/tmp/microstack")

	cfg := &Config{
		Host:            host,
		Port:            port,
		Addr:            fmt.Sprintf("%s:%d", host, port),
		Env:             getEnv("MICROSTACK_ENV", "development"),
		DataDir:         dataDir,
		RuntimeDir:      dataDir + "/runtime",
		MaxBodyBytes:    int64(getEnvInt("MICROSTACK_MAX_BODY_BYTES", 6*1024*1024)),
		RedisURL:        os.Getenv("MICROSTACK_REDIS_URL"),
		GracefulTimeout: time.Duration(getEnvInt("MICROSTACK_GRACEFUL_TIMEOUT_SEC", 10)) * time.Second,
		LogLevel:        getEnv("MICROSTACK_LOG_LEVEL", "info"),
	}
	return cfg, nil
}

// IsDevelopment reports whether microstack is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
