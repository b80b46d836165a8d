package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/forms"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// CatalogService authors templates. Versions are append-only and a
// published version is never changed again.
type CatalogService struct {
	repomanager repomanager.RepositoryManager
	log         logging.Logger
	now         func() time.Time
}

func NewCatalogService(m repomanager.RepositoryManager, log logging.Logger) *CatalogService {
	return &CatalogService{
		repomanager: m,
		log:         log.With("module", "catalog"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// PublishVersion appends version max+1 of templateID, already published,
// creating the template when needed.
func (s *CatalogService) PublishVersion(ctx context.Context, templateID string, def *forms.Definition) (*forms.Version, error) {
	return s.insertVersion(ctx, templateID, def, forms.StatusPublished)
}

// CreateDraft appends a draft version that can still gain entities.
func (s *CatalogService) CreateDraft(ctx context.Context, templateID string, def *forms.Definition) (*forms.Version, error) {
	return s.insertVersion(ctx, templateID, def, forms.StatusDraft)
}

func (s *CatalogService) insertVersion(ctx context.Context, templateID string, def *forms.Definition, status forms.VersionStatus) (*forms.Version, error) {
	if templateID == "" {
		return nil, rejected("template id is required")
	}
	def.Normalize()
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidValue, err)
	}
	if status == forms.StatusPublished && len(def.Entities) == 0 {
		return nil, fmt.Errorf("%w: a published version needs at least one entity", common.ErrInvalidValue)
	}

	v := &forms.Version{
		ID:         uuid.NewString(),
		TemplateID: templateID,
		Status:     status,
		Entities:   def.Entities,
	}
	if status == forms.StatusPublished {
		now := s.now()
		v.PublishedAt = &now
	}

	err := s.repomanager.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		if err := r.Templates().EnsureTemplate(ctx, templateID, def.Name); err != nil {
			return err
		}
		n, err := r.Templates().NextVersionNumber(ctx, templateID)
		if err != nil {
			return err
		}
		v.Number = n
		return r.Templates().InsertVersion(ctx, v)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "version created", "template_id", templateID, "version_id", v.ID,
		"number", v.Number, "status", string(v.Status))
	return v, nil
}

// AddEntity appends e to a draft version.
func (s *CatalogService) AddEntity(ctx context.Context, versionID string, e forms.Entity) (*forms.Version, error) {
	var out *forms.Version
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		v, err := r.Templates().GetVersion(ctx, versionID)
		if err != nil {
			return err
		}
		if v.IsPublished() {
			return fmt.Errorf("version %s: %w", versionID, common.ErrVersionImmutable)
		}

		seen := make(map[string]struct{})
		for _, existing := range v.Entities {
			for _, row := range existing.Rows {
				seen[row.ID] = struct{}{}
			}
		}
		if e.ID == "" {
			e.ID = fmt.Sprintf("e-%d", len(v.Entities)+1)
		}
		if e.SortOrder == 0 {
			e.SortOrder = len(v.Entities) + 1
		}
		for _, existing := range v.Entities {
			if existing.ID == e.ID {
				return fmt.Errorf("%w: entity %s already exists", common.ErrInvalidValue, e.ID)
			}
		}
		if errs := forms.ValidateEntity(e, seen); len(errs) > 0 {
			return fmt.Errorf("%w: %w", common.ErrInvalidValue, errors.Join(errs...))
		}

		v.Entities = append(v.Entities, e)
		if err := r.Templates().UpdateVersion(ctx, v); err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Publish freezes a draft version. Publishing a published version returns
// it unchanged.
func (s *CatalogService) Publish(ctx context.Context, versionID string) (*forms.Version, error) {
	var out *forms.Version
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		v, err := r.Templates().GetVersion(ctx, versionID)
		if err != nil {
			return err
		}
		if v.IsPublished() {
			out = v
			return nil
		}
		if len(v.Entities) == 0 {
			return fmt.Errorf("%w: a published version needs at least one entity", common.ErrInvalidValue)
		}
		def := forms.Definition{Entities: v.Entities}
		if err := def.Validate(); err != nil {
			return fmt.Errorf("%w: %w", common.ErrInvalidValue, err)
		}

		now := s.now()
		v.Status = forms.StatusPublished
		v.PublishedAt = &now
		if err := r.Templates().UpdateVersion(ctx, v); err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "version published", "template_id", out.TemplateID, "version_id", out.ID, "number", out.Number)
	return out, nil
}

func (s *CatalogService) ListTemplates(ctx context.Context) ([]forms.Template, error) {
	var out []forms.Template
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		var err error
		out, err = r.Templates().ListTemplates(ctx)
		return err
	})
	return out, err
}

func (s *CatalogService) GetVersion(ctx context.Context, versionID string) (*forms.Version, error) {
	var out *forms.Version
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		var err error
		out, err = r.Templates().GetVersion(ctx, versionID)
		return err
	})
	return out, err
}
