package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/catalog"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/forms"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

// RefreshReport summarizes one catalog refresh.
type RefreshReport struct {
	Templates int
	Inserted  int
	Updated   int
	Conflicts int
}

// CatalogService keeps the on-device copy of the template catalog.
// Published versions are immutable: once cached they are served from memory
// without touching the database again.
type CatalogService struct {
	db     *sql.DB
	client client.Client
	log    logging.Logger
	now    func() time.Time

	mu        sync.RWMutex
	published map[string]*forms.Version
}

func NewCatalogService(db *sql.DB, c client.Client, log logging.Logger) *CatalogService {
	return &CatalogService{
		db:        db,
		client:    c,
		log:       log.With("module", "catalog"),
		now:       time.Now,
		published: make(map[string]*forms.Version),
	}
}

func (s *CatalogService) getCatalogRepo(db dbx.DBTX) catalog.Repository {
	return catalog.NewSQLiteRepository(db)
}

// Refresh downloads the catalog and caches it. A published version whose
// payload differs from the cached copy is reported and ignored.
func (s *CatalogService) Refresh(ctx context.Context) (*RefreshReport, error) {
	templates, err := s.client.FetchTemplates(ctx)
	if err != nil {
		return nil, err
	}

	report := &RefreshReport{Templates: len(templates)}
	now := s.now().UTC()

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.getCatalogRepo(tx)
		for i := range templates {
			t := &templates[i]
			if err := repo.UpsertTemplate(ctx, t.ID, t.Name, now); err != nil {
				return err
			}
			for j := range t.Versions {
				v := &t.Versions[j]
				if v.TemplateID == "" {
					v.TemplateID = t.ID
				}
				res, err := repo.PutVersion(ctx, v)
				if err != nil {
					return err
				}
				switch res {
				case catalog.PutInserted:
					report.Inserted++
				case catalog.PutUpdated:
					report.Updated++
				case catalog.PutConflict:
					report.Conflicts++
					s.log.Warn(ctx, "published version changed on server, cached copy kept",
						"template_id", t.ID, "version_id", v.ID, "number", v.Number)
				}
			}
		}
		return metadata.NewSQLiteRepository(tx).SetTime(ctx, metadata.KeyCatalogRefreshedAt, now)
	})
	if err != nil {
		return nil, fmt.Errorf("cache catalog: %w", err)
	}

	s.log.Info(ctx, "catalog refreshed", "templates", report.Templates,
		"inserted", report.Inserted, "updated", report.Updated, "conflicts", report.Conflicts)
	return report, nil
}

// GetPublishedVersion returns the highest published version of a template,
// or common.ErrNotFound.
func (s *CatalogService) GetPublishedVersion(ctx context.Context, templateID string) (*forms.Version, error) {
	v, err := s.getCatalogRepo(s.db).LatestPublished(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("published version of %s: %w", templateID, err)
	}
	s.remember(v)
	return v, nil
}

// GetVersion returns the exact version a session is bound to, regardless of
// newer versions published since.
func (s *CatalogService) GetVersion(ctx context.Context, templateID, versionID string) (*forms.Version, error) {
	s.mu.RLock()
	v, ok := s.published[versionID]
	s.mu.RUnlock()
	if !ok {
		var err error
		if v, err = s.getCatalogRepo(s.db).GetVersion(ctx, versionID); err != nil {
			return nil, fmt.Errorf("version %s: %w", versionID, err)
		}
	}
	if v.TemplateID != templateID {
		return nil, fmt.Errorf("version %s of template %s: %w", versionID, templateID, common.ErrNotFound)
	}
	s.remember(v)
	return v, nil
}

func (s *CatalogService) List(ctx context.Context) ([]forms.Template, error) {
	return s.getCatalogRepo(s.db).ListTemplates(ctx)
}

// RefreshedAt returns when the catalog was last refreshed, nil if never.
func (s *CatalogService) RefreshedAt(ctx context.Context) (*time.Time, error) {
	return metadata.NewSQLiteRepository(s.db).GetTime(ctx, metadata.KeyCatalogRefreshedAt)
}

func (s *CatalogService) remember(v *forms.Version) {
	if !v.IsPublished() {
		return
	}
	s.mu.Lock()
	s.published[v.ID] = v
	s.mu.Unlock()
}
