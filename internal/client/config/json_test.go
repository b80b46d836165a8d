package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJSON(t *testing.T) {
	t.Run("overlays only present keys", func(t *testing.T) {
		path := writeTempJSON(t, map[string]any{
			"server_url":             "https://sync.example",
			"online_check_interval":  "10s",
			"retry_base_delay":       int64(2 * time.Second),
			"max_attempts_per_drain": 6,
		})

		var cfg Config
		cfg.LoadDefaults()
		require.NoError(t, parseJSON(&cfg, path))

		assert.Equal(t, "https://sync.example", cfg.ServerURL)
		assert.Equal(t, 10*time.Second, cfg.OnlineCheckInterval)
		assert.Equal(t, 2*time.Second, cfg.RetryBaseDelay)
		assert.Equal(t, uint64(6), cfg.MaxAttemptsPerDrain)
		assert.Equal(t, 5*time.Minute, cfg.RetryMaxDelay, "absent keys keep defaults")
		assert.Equal(t, ".fieldrunner", cfg.DataDir)
	})

	t.Run("empty path leaves config untouched", func(t *testing.T) {
		cfg := Config{ServerURL: "http://defaults:1234"}
		require.NoError(t, parseJSON(&cfg, ""))
		assert.Equal(t, "http://defaults:1234", cfg.ServerURL)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		err := parseJSON(&Config{}, bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse config")
	})

	t.Run("missing file", func(t *testing.T) {
		err := parseJSON(&Config{}, filepath.Join(t.TempDir(), "absent.json"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read config")
	})

	t.Run("invalid duration", func(t *testing.T) {
		path := writeTempJSON(t, map[string]any{"sync_interval": "soon"})
		assert.Error(t, parseJSON(&Config{}, path))
	})
}
