// Package cliconfig resolves configuration for the pulse CLI from a TOML
// file, PULSE_* environment variables, and command-line flags, with flags
// taking precedence.
package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config is the CLI-facing configuration.
type Config struct {
	APIKey          string
	ServerURL       string
	BatchMode       bool
	FlushThreshold  int
	FlushPeriod     time.Duration
	Timeout         time.Duration
	MinIDLength     int
	Compress        bool
	RecordThrottled bool

	LogLevel  string
	LogPretty bool
}

// DefaultConfig returns a Config with default values. APIKey must be set
// before use.
func DefaultConfig() Config {
	return Config{
		FlushThreshold: 10,
		FlushPeriod:    10 * time.Second,
		Timeout:        10 * time.Second,
		LogLevel:       "info",
		APIKey:         os.Getenv("PULSE_API_KEY"),
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api key is required (flag --api-key, env PULSE_API_KEY, or config file)")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// Logger builds the CLI logger from the config's level and format.
func (c *Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	if c.LogPretty {
		w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		return zerolog.New(w).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

// DefaultConfigPath returns ~/.pulse/config.toml, or empty when the home
// directory cannot be resolved.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".pulse", "config.toml")
	}
	return ""
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
