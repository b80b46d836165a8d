// Package catalog caches the server's template catalog on the device so
// sessions can be opened and validated while offline.
package catalog

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/forms"
)

// PutResult says what PutVersion did with a fetched version.
type PutResult int

const (
	PutInserted PutResult = iota
	PutUpdated
	PutUnchanged
	// PutConflict: the cached copy is published and the fetched payload
	// differs; the cached copy was kept.
	PutConflict
)

type Repository interface {
	UpsertTemplate(ctx context.Context, id, name string, fetchedAt time.Time) error
	// PutVersion stores v unless a published copy already exists.
	PutVersion(ctx context.Context, v *forms.Version) (PutResult, error)
	// GetVersion returns common.ErrNotFound when absent.
	GetVersion(ctx context.Context, versionID string) (*forms.Version, error)
	// LatestPublished returns common.ErrNotFound when the template has no
	// published version.
	LatestPublished(ctx context.Context, templateID string) (*forms.Version, error)
	ListTemplates(ctx context.Context) ([]forms.Template, error)
}
