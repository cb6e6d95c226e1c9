package cliconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ApplyEnvConfig applies PULSE_* environment variables to cfg. Values are
// skipped for fields whose flags were set explicitly.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	if v := os.Getenv("PULSE_API_KEY"); v != "" && !changed["api-key"] {
		cfg.APIKey = v
	}
	if v := os.Getenv("PULSE_SERVER_URL"); v != "" && !changed["url"] {
		cfg.ServerURL = v
	}
	if err := envBool("PULSE_BATCH_MODE", "batch", &cfg.BatchMode, changed); err != nil {
		return err
	}
	if err := envInt("PULSE_FLUSH_THRESHOLD", "flush-threshold", &cfg.FlushThreshold, changed); err != nil {
		return err
	}
	if err := envDuration("PULSE_FLUSH_PERIOD", "flush-period", &cfg.FlushPeriod, changed); err != nil {
		return err
	}
	if err := envDuration("PULSE_TIMEOUT", "timeout", &cfg.Timeout, changed); err != nil {
		return err
	}
	if err := envInt("PULSE_MIN_ID_LENGTH", "min-id-length", &cfg.MinIDLength, changed); err != nil {
		return err
	}
	if err := envBool("PULSE_COMPRESS", "compress", &cfg.Compress, changed); err != nil {
		return err
	}
	if err := envBool("PULSE_RECORD_THROTTLED", "record-throttled", &cfg.RecordThrottled, changed); err != nil {
		return err
	}
	if v := os.Getenv("PULSE_LOG_LEVEL"); v != "" && !changed["log-level"] {
		cfg.LogLevel = v
	}
	if err := envBool("PULSE_LOG_PRETTY", "log-pretty", &cfg.LogPretty, changed); err != nil {
		return err
	}
	return nil
}

func envBool(key, flag string, dst *bool, changed map[string]bool) error {
	v := os.Getenv(key)
	if v == "" || changed[flag] {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid bool for %s: %w", key, err)
	}
	*dst = b
	return nil
}

func envInt(key, flag string, dst *int, changed map[string]bool) error {
	v := os.Getenv(key)
	if v == "" || changed[flag] {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid int for %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envDuration(key, flag string, dst *time.Duration, changed map[string]bool) error {
	v := os.Getenv(key)
	if v == "" || changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	*dst = d
	return nil
}
