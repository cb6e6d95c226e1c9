package cliconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func clearPulseEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PULSE_API_KEY", "PULSE_SERVER_URL", "PULSE_BATCH_MODE",
		"PULSE_FLUSH_THRESHOLD", "PULSE_FLUSH_PERIOD", "PULSE_TIMEOUT",
		"PULSE_MIN_ID_LENGTH", "PULSE_COMPRESS", "PULSE_RECORD_THROTTLED",
		"PULSE_LOG_LEVEL", "PULSE_LOG_PRETTY",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestResolveFromFile(t *testing.T) {
	clearPulseEnv(t)
	path := writeConfig(t, `
api_key = "file-key"
server_url = "https://collector.example.com"
batch_mode = true
flush_threshold = 25
flush_period = "5s"
timeout = "2s"
min_id_length = 7
compress = true
log_level = "debug"
`)

	cfg := DefaultConfig()
	require.NoError(t, Resolve(&cfg, path, nil))

	assert.Equal(t, "file-key", cfg.APIKey)
	assert.Equal(t, "https://collector.example.com", cfg.ServerURL)
	assert.True(t, cfg.BatchMode)
	assert.Equal(t, 25, cfg.FlushThreshold)
	assert.Equal(t, 5*time.Second, cfg.FlushPeriod)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, 7, cfg.MinIDLength)
	assert.True(t, cfg.Compress)
	assert.Equal(t, "debug", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestResolveFlagsWinOverFile(t *testing.T) {
	clearPulseEnv(t)
	path := writeConfig(t, `
api_key = "file-key"
flush_threshold = 25
`)

	cfg := DefaultConfig()
	cfg.APIKey = "flag-key"
	cfg.FlushThreshold = 3
	changed := map[string]bool{"api-key": true, "flush-threshold": true}
	require.NoError(t, Resolve(&cfg, path, changed))

	assert.Equal(t, "flag-key", cfg.APIKey)
	assert.Equal(t, 3, cfg.FlushThreshold)
}

func TestResolveEnvWinsOverFile(t *testing.T) {
	clearPulseEnv(t)
	path := writeConfig(t, `
api_key = "file-key"
timeout = "2s"
`)
	t.Setenv("PULSE_API_KEY", "env-key")
	t.Setenv("PULSE_TIMEOUT", "9s")
	t.Setenv("PULSE_RECORD_THROTTLED", "true")

	cfg := DefaultConfig()
	cfg.APIKey = "" // DefaultConfig reads PULSE_API_KEY too; start clean
	require.NoError(t, Resolve(&cfg, path, nil))

	assert.Equal(t, "env-key", cfg.APIKey)
	assert.Equal(t, 9*time.Second, cfg.Timeout)
	assert.True(t, cfg.RecordThrottled)
}

func TestResolveFlagsWinOverEnv(t *testing.T) {
	clearPulseEnv(t)
	t.Setenv("PULSE_FLUSH_PERIOD", "1s")

	cfg := DefaultConfig()
	cfg.APIKey = "k"
	cfg.FlushPeriod = 30 * time.Second
	changed := map[string]bool{"flush-period": true}
	require.NoError(t, Resolve(&cfg, filepath.Join(t.TempDir(), "absent.toml"), changed))

	assert.Equal(t, 30*time.Second, cfg.FlushPeriod)
}

func TestResolveMissingFileIsIgnored(t *testing.T) {
	clearPulseEnv(t)
	cfg := DefaultConfig()
	cfg.APIKey = "k"
	require.NoError(t, Resolve(&cfg, filepath.Join(t.TempDir(), "absent.toml"), nil))
	assert.Equal(t, 10, cfg.FlushThreshold)
}

func TestResolveBadDuration(t *testing.T) {
	clearPulseEnv(t)
	path := writeConfig(t, `timeout = "not-a-duration"`)

	cfg := DefaultConfig()
	err := Resolve(&cfg, path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestResolveBadEnvBool(t *testing.T) {
	clearPulseEnv(t)
	t.Setenv("PULSE_COMPRESS", "maybe")

	cfg := DefaultConfig()
	err := Resolve(&cfg, filepath.Join(t.TempDir(), "absent.toml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PULSE_COMPRESS")
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = ""
	require.Error(t, cfg.Validate(), "missing api key must fail validation")

	cfg.APIKey = "k"
	cfg.LogLevel = "shouty"
	require.Error(t, cfg.Validate())

	cfg.LogLevel = "warn"
	require.NoError(t, cfg.Validate())
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, FileExists(filepath.Join(dir, "nope.toml")))
	assert.False(t, FileExists(dir), "directories do not count")

	path := writeConfig(t, "api_key = \"k\"")
	assert.True(t, FileExists(path))
}
