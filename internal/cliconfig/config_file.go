package cliconfig

import (
	"fmt"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors Config but uses strings for durations to keep the TOML
// friendly.
type fileConfig struct {
	APIKey          string `toml:"api_key"`
	ServerURL       string `toml:"server_url"`
	BatchMode       *bool  `toml:"batch_mode"`
	FlushThreshold  int    `toml:"flush_threshold"`
	FlushPeriod     string `toml:"flush_period"`
	Timeout         string `toml:"timeout"`
	MinIDLength     int    `toml:"min_id_length"`
	Compress        *bool  `toml:"compress"`
	RecordThrottled *bool  `toml:"record_throttled"`
	LogLevel        string `toml:"log_level"`
	LogPretty       *bool  `toml:"log_pretty"`
}

// LoadFileConfig reads and parses a TOML config file.
func LoadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// ApplyFileConfig applies file values to cfg, skipping fields whose flags
// were set explicitly (the changed map is keyed by flag name).
func ApplyFileConfig(cfg *Config, fc fileConfig, changed map[string]bool) error {
	if fc.APIKey != "" && !changed["api-key"] {
		cfg.APIKey = fc.APIKey
	}
	if fc.ServerURL != "" && !changed["url"] {
		cfg.ServerURL = fc.ServerURL
	}
	if fc.BatchMode != nil && !changed["batch"] {
		cfg.BatchMode = *fc.BatchMode
	}
	if fc.FlushThreshold > 0 && !changed["flush-threshold"] {
		cfg.FlushThreshold = fc.FlushThreshold
	}
	if err := setDuration("flush-period", fc.FlushPeriod, &cfg.FlushPeriod, changed); err != nil {
		return err
	}
	if err := setDuration("timeout", fc.Timeout, &cfg.Timeout, changed); err != nil {
		return err
	}
	if fc.MinIDLength > 0 && !changed["min-id-length"] {
		cfg.MinIDLength = fc.MinIDLength
	}
	if fc.Compress != nil && !changed["compress"] {
		cfg.Compress = *fc.Compress
	}
	if fc.RecordThrottled != nil && !changed["record-throttled"] {
		cfg.RecordThrottled = *fc.RecordThrottled
	}
	if fc.LogLevel != "" && !changed["log-level"] {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.LogPretty != nil && !changed["log-pretty"] {
		cfg.LogPretty = *fc.LogPretty
	}
	return nil
}

func setDuration(flag, value string, dst *time.Duration, changed map[string]bool) error {
	if value == "" || changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// Resolve builds the effective configuration: defaults, then the config file
// (when present), then environment, with explicitly changed flags left
// untouched throughout.
func Resolve(cfg *Config, path string, changed map[string]bool) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if path != "" && FileExists(path) {
		fc, err := LoadFileConfig(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := ApplyFileConfig(cfg, fc, changed); err != nil {
			return err
		}
	}
	return ApplyEnvConfig(cfg, changed)
}
