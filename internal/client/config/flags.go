package config

import "github.com/spf13/pflag"

// BindFlags registers the runner's persistent flags on fs, using the current
// values of c as defaults, so parsing fs overrides defaults and JSON.
//
//	-s, --server            sync server base URL
//	-t, --token             bearer access token
//	-d, --data-dir          local data directory
//	-i, --online-check      online status check interval
//	    --sync-interval     periodic sync interval while online
//	    --request-timeout   per-request timeout
//	    --log-level         debug | info | warn | error
//
// -c / --config is declared so cobra accepts it; the file itself is read by
// LoadConfig before flags are parsed.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "path to JSON config file")
	fs.StringVarP(&c.ServerURL, "server", "s", c.ServerURL, "sync server base URL")
	fs.StringVarP(&c.AccessToken, "token", "t", c.AccessToken, "bearer access token")
	fs.StringVarP(&c.DataDir, "data-dir", "d", c.DataDir, "local data directory")
	fs.DurationVarP(&c.OnlineCheckInterval, "online-check", "i", c.OnlineCheckInterval, "online status check interval")
	fs.DurationVar(&c.SyncInterval, "sync-interval", c.SyncInterval, "periodic sync interval while online")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "per-request timeout")
	fs.DurationVar(&c.SaveDebounce, "save-debounce", c.SaveDebounce, "delay before edits are saved and queued")
	fs.DurationVar(&c.RetryBaseDelay, "retry-base-delay", c.RetryBaseDelay, "first retry delay")
	fs.DurationVar(&c.RetryMaxDelay, "retry-max-delay", c.RetryMaxDelay, "retry delay cap")
	fs.Uint64Var(&c.RetryJitterPercent, "retry-jitter", c.RetryJitterPercent, "retry jitter in percent")
	fs.Uint64Var(&c.MaxAttemptsPerDrain, "max-attempts", c.MaxAttemptsPerDrain, "attempts per entry within one drain")
	fs.IntVar(&c.AttachmentConcurrency, "upload-concurrency", c.AttachmentConcurrency, "concurrent attachment uploads")
	fs.IntVar(&c.MaxBatchDrafts, "max-batch", c.MaxBatchDrafts, "maximum drafts per response batch")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
}
