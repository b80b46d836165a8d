// Package metadata is a small key/value store for runner bookkeeping such as
// the time of the last catalog refresh or the last successful sync.
package metadata

import (
	"context"
	"time"
)

const (
	KeyCatalogRefreshedAt = "catalog.refreshed_at"
	KeyLastSyncAt         = "sync.last_success_at"
	KeyAccessToken        = "auth.access_token"
)

type Repository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	GetTime(ctx context.Context, key string) (*time.Time, error)
	SetTime(ctx context.Context, key string, t time.Time) error
	Delete(ctx context.Context, key string) error
}
