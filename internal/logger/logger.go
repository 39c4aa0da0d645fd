// Package logger configures microstack's structured logger.
package logger

import (
	"os"

	"github.com/conorvenus/microstack/internal/config"
	"github.com/rs/zerolog"
)

// New returns a configured zerolog.Logger. Development mode gets a
// human-readable console writer at debug level; anything else gets
// level-filtered JSON suitable for redirecting to a file.
func New(cfg *config.Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if cfg.IsDevelopment() && cfg.LogLevel == "info" {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out zerolog.ConsoleWriter
	if cfg.IsDevelopment() {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
		return zerolog.New(out).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
