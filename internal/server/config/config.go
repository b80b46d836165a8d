// Package config handles configuration for the sync server: defaults, an
// optional .env file and FIELDSYNC_* environment variables, a JSON file and
// finally command-line flags, each layer overriding the previous one.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/flagx"
)

// Config holds runtime settings for the sync server.
//
// An empty DatabaseDSN selects the in-memory store and an empty S3Bucket the
// in-memory blob store; both are meant for development and tests.
type Config struct {
	HTTPAddr    string
	DatabaseDSN string

	SecretKey     string
	TokenValidity time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	MaxAttachmentBytes int64

	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
	S3AccessKey    string
	S3SecretKey    string

	LogLevel string
}

// LoadDefaults populates c with development defaults.
// NOTE: the secret key must be overridden in production.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":8080"
	c.DatabaseDSN = ""
	c.SecretKey = "secretKey"
	c.TokenValidity = 30 * 24 * time.Hour
	c.RateLimitRPS = 20
	c.RateLimitBurst = 40
	c.MaxAttachmentBytes = 32 << 20
	c.S3Bucket = ""
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = ""
	c.S3AccessKey = ""
	c.S3SecretKey = ""
	c.LogLevel = "info"
}

func (c *Config) Validate() error {
	switch {
	case c.HTTPAddr == "":
		return fmt.Errorf("http address is required")
	case c.SecretKey == "":
		return fmt.Errorf("secret key is required")
	case c.TokenValidity <= 0:
		return fmt.Errorf("token validity must be positive")
	case c.RateLimitRPS <= 0 || c.RateLimitBurst < 1:
		return fmt.Errorf("rate limit must be positive")
	case c.MaxAttachmentBytes <= 0:
		return fmt.Errorf("max attachment size must be positive")
	}
	return nil
}

// LoadConfig builds a Config from defaults, the environment (including a
// .env file in the working directory) and the JSON file named by -c.
// Flags are applied when the command parses the flag set bound with
// BindFlags.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseEnv(cfg, ".env"); err != nil {
		return nil, err
	}
	if err := parseJSON(cfg, flagx.ConfigPath(os.Args[1:])); err != nil {
		return nil, err
	}
	return cfg, nil
}
