// Package repomanager hands out the server repositories bound to one
// transaction, over PostgreSQL or (see package memory) in process memory.
package repomanager

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/server/repositories/attachments"
	"github.com/dmitrijs2005/fieldsync/internal/server/repositories/inspections"
	"github.com/dmitrijs2005/fieldsync/internal/server/repositories/templates"
)

// Repositories is the set of repositories visible inside one transaction.
type Repositories interface {
	Templates() templates.Repository
	Inspections() inspections.Repository
	Attachments() attachments.Repository
}

type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	// WithTx runs fn in one transaction; an error from fn rolls it back.
	WithTx(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error
	Close() error
}
