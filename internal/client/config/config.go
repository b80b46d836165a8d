package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/flagx"
)

// Config holds runtime settings for the field runner.
type Config struct {
	ServerURL   string
	AccessToken string
	DataDir     string

	OnlineCheckInterval time.Duration
	SyncInterval        time.Duration
	RequestTimeout      time.Duration
	SaveDebounce        time.Duration

	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	RetryJitterPercent  uint64
	MaxAttemptsPerDrain uint64

	AttachmentConcurrency int
	MaxBatchDrafts        int

	LogLevel string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.AccessToken = ""
	c.DataDir = ".fieldrunner"
	c.OnlineCheckInterval = 3 * time.Second
	c.SyncInterval = time.Minute
	c.RequestTimeout = 15 * time.Second
	c.SaveDebounce = 750 * time.Millisecond
	c.RetryBaseDelay = time.Second
	c.RetryMaxDelay = 5 * time.Minute
	c.RetryJitterPercent = 20
	c.MaxAttemptsPerDrain = 4
	c.AttachmentConcurrency = 2
	c.MaxBatchDrafts = 100
	c.LogLevel = "info"
}

// Validate rejects settings the sync engine cannot work with.
func (c *Config) Validate() error {
	switch {
	case c.ServerURL == "":
		return fmt.Errorf("server url is required")
	case c.DataDir == "":
		return fmt.Errorf("data dir is required")
	case c.RetryBaseDelay <= 0:
		return fmt.Errorf("retry base delay must be positive")
	case c.RetryMaxDelay < c.RetryBaseDelay:
		return fmt.Errorf("retry max delay must not be below base delay")
	case c.RetryJitterPercent > 100:
		return fmt.Errorf("retry jitter percent must be within 0..100")
	case c.MaxAttemptsPerDrain == 0:
		return fmt.Errorf("max attempts per drain must be at least 1")
	case c.AttachmentConcurrency < 1:
		return fmt.Errorf("attachment concurrency must be at least 1")
	case c.MaxBatchDrafts < 1:
		return fmt.Errorf("max batch drafts must be at least 1")
	}
	return nil
}

// LoadConfig constructs a Config from defaults overlaid with the JSON file
// named on the command line (if any). Flags are applied later, when the root
// command parses its flag set bound with BindFlags.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJSON(cfg, flagx.ConfigPath(os.Args[1:])); err != nil {
		return nil, err
	}
	return cfg, nil
}
