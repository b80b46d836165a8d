package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "http://127.0.0.1:8080", c.ServerURL)
	assert.Equal(t, 3*time.Second, c.OnlineCheckInterval)
	assert.Equal(t, time.Second, c.RetryBaseDelay)
	assert.Equal(t, 5*time.Minute, c.RetryMaxDelay)
	assert.Equal(t, uint64(4), c.MaxAttemptsPerDrain)
	assert.NoError(t, c.Validate())
}

func TestLoadConfig_UsesDefaultsWithoutConfigFlag(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"fieldrunner", "status"}

	cfg, err := LoadConfig()
	require.NoError(t, err)

	var want Config
	want.LoadDefaults()
	assert.Equal(t, &want, cfg)
}

func TestLoadConfig_ReadsConfigFlag(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	path := writeTempJSON(t, map[string]any{"server_url": "https://sync.example"})
	os.Args = []string{"fieldrunner", "sync", "--config", path}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://sync.example", cfg.ServerURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server", func(c *Config) { c.ServerURL = "" }},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"zero base delay", func(c *Config) { c.RetryBaseDelay = 0 }},
		{"cap below base", func(c *Config) { c.RetryMaxDelay = time.Millisecond }},
		{"jitter over 100", func(c *Config) { c.RetryJitterPercent = 101 }},
		{"zero attempts", func(c *Config) { c.MaxAttemptsPerDrain = 0 }},
		{"zero concurrency", func(c *Config) { c.AttachmentConcurrency = 0 }},
		{"zero batch", func(c *Config) { c.MaxBatchDrafts = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
