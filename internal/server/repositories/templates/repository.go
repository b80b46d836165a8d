// Package templates stores the authored template catalog: templates and
// their append-only, numbered versions.
package templates

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/forms"
)

type Repository interface {
	// EnsureTemplate creates the template if absent and renames it when name
	// is non-empty.
	EnsureTemplate(ctx context.Context, id, name string) error
	ListTemplates(ctx context.Context) ([]forms.Template, error)
	// NextVersionNumber returns one more than the highest version number of
	// the template, 1 for a template without versions.
	NextVersionNumber(ctx context.Context, templateID string) (int, error)
	InsertVersion(ctx context.Context, v *forms.Version) error
	// GetVersion returns common.ErrNotFound when absent.
	GetVersion(ctx context.Context, versionID string) (*forms.Version, error)
	// UpdateVersion rewrites a draft version. A published version is never
	// rewritten: common.ErrVersionImmutable.
	UpdateVersion(ctx context.Context, v *forms.Version) error
}
