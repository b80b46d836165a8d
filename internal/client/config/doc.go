// Package config loads runtime configuration for the field runner.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c / --config.
//  3. Command-line flags bound on the root command (see BindFlags), which
//     override earlier values.
//
// # JSON schema
//
// Durations use timex.Duration, so values are strings like "3s" or integer
// nanoseconds:
//
//	{
//	  "server_url": "http://127.0.0.1:8080",
//	  "access_token": "eyJ...",
//	  "data_dir": "/var/lib/fieldrunner",
//	  "online_check_interval": "3s",
//	  "sync_interval": "1m",
//	  "request_timeout": "15s",
//	  "save_debounce": "750ms",
//	  "retry_base_delay": "1s",
//	  "retry_max_delay": "5m",
//	  "retry_jitter_percent": 20,
//	  "max_attempts_per_drain": 4,
//	  "attachment_concurrency": 2,
//	  "max_batch_drafts": 100,
//	  "log_level": "info"
//	}
package config
