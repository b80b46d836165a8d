package config

import "github.com/spf13/pflag"

// BindFlags registers the server flags on fs with the current values of c
// as defaults.
//
//	-a, --addr        HTTP bind address
//	-d, --dsn         PostgreSQL DSN (empty: in-memory store)
//	-k, --secret-key  JWT HMAC secret
//	-b, --s3-bucket   attachment bucket (empty: in-memory blobs)
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "path to JSON config file")
	fs.StringVarP(&c.HTTPAddr, "addr", "a", c.HTTPAddr, "HTTP bind address")
	fs.StringVarP(&c.DatabaseDSN, "dsn", "d", c.DatabaseDSN, "PostgreSQL DSN, in-memory store when empty")
	fs.StringVarP(&c.SecretKey, "secret-key", "k", c.SecretKey, "JWT HMAC secret")
	fs.DurationVar(&c.TokenValidity, "token-validity", c.TokenValidity, "lifetime of issued tokens")
	fs.Float64Var(&c.RateLimitRPS, "rate-limit", c.RateLimitRPS, "requests per second per technician")
	fs.IntVar(&c.RateLimitBurst, "rate-burst", c.RateLimitBurst, "request burst per technician")
	fs.Int64Var(&c.MaxAttachmentBytes, "max-attachment-bytes", c.MaxAttachmentBytes, "largest accepted attachment")
	fs.StringVarP(&c.S3Bucket, "s3-bucket", "b", c.S3Bucket, "S3 bucket for attachments, in-memory when empty")
	fs.StringVar(&c.S3Region, "s3-region", c.S3Region, "S3 region")
	fs.StringVar(&c.S3BaseEndpoint, "s3-endpoint", c.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&c.S3AccessKey, "s3-access-key", c.S3AccessKey, "S3 access key")
	fs.StringVar(&c.S3SecretKey, "s3-secret-key", c.S3SecretKey, "S3 secret key")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
}
