package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

// jsonConfig is a DTO used exclusively for JSON unmarshalling. Pointer fields
// distinguish "absent" from a zero value, so a partial file only overrides
// what it names.
type jsonConfig struct {
	ServerURL             *string         `json:"server_url"`
	AccessToken           *string         `json:"access_token"`
	DataDir               *string         `json:"data_dir"`
	OnlineCheckInterval   *timex.Duration `json:"online_check_interval"`
	SyncInterval          *timex.Duration `json:"sync_interval"`
	RequestTimeout        *timex.Duration `json:"request_timeout"`
	SaveDebounce          *timex.Duration `json:"save_debounce"`
	RetryBaseDelay        *timex.Duration `json:"retry_base_delay"`
	RetryMaxDelay         *timex.Duration `json:"retry_max_delay"`
	RetryJitterPercent    *uint64         `json:"retry_jitter_percent"`
	MaxAttemptsPerDrain   *uint64         `json:"max_attempts_per_drain"`
	AttachmentConcurrency *int            `json:"attachment_concurrency"`
	MaxBatchDrafts        *int            `json:"max_batch_drafts"`
	LogLevel              *string         `json:"log_level"`
}

// parseJSON overlays cfg with the values present in the file at path.
// An empty path leaves cfg untouched.
func parseJSON(cfg *Config, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var jc jsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&cfg.ServerURL, jc.ServerURL)
	setString(&cfg.AccessToken, jc.AccessToken)
	setString(&cfg.DataDir, jc.DataDir)
	setString(&cfg.LogLevel, jc.LogLevel)

	setDuration(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval)
	setDuration(&cfg.SyncInterval, jc.SyncInterval)
	setDuration(&cfg.RequestTimeout, jc.RequestTimeout)
	setDuration(&cfg.SaveDebounce, jc.SaveDebounce)
	setDuration(&cfg.RetryBaseDelay, jc.RetryBaseDelay)
	setDuration(&cfg.RetryMaxDelay, jc.RetryMaxDelay)

	if jc.RetryJitterPercent != nil {
		cfg.RetryJitterPercent = *jc.RetryJitterPercent
	}
	if jc.MaxAttemptsPerDrain != nil {
		cfg.MaxAttemptsPerDrain = *jc.MaxAttemptsPerDrain
	}
	if jc.AttachmentConcurrency != nil {
		cfg.AttachmentConcurrency = *jc.AttachmentConcurrency
	}
	if jc.MaxBatchDrafts != nil {
		cfg.MaxBatchDrafts = *jc.MaxBatchDrafts
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
