// Package memory is an in-process RepositoryManager for development and
// tests. Each transaction works on a copy of the state that replaces the
// shared state only when the transaction succeeds.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dmitrijs2005/fieldsync/internal/api"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/forms"
	"github.com/dmitrijs2005/fieldsync/internal/server/models"
	"github.com/dmitrijs2005/fieldsync/internal/server/repositories/attachments"
	"github.com/dmitrijs2005/fieldsync/internal/server/repositories/inspections"
	"github.com/dmitrijs2005/fieldsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/fieldsync/internal/server/repositories/templates"
)

type state struct {
	templates   map[string]string // id -> name
	versions    map[string]forms.Version
	inspections map[string]models.Inspection
	responses   map[string]map[int64]models.Response
	attachments map[string]api.AttachmentRef
}

func newState() *state {
	return &state{
		templates:   make(map[string]string),
		versions:    make(map[string]forms.Version),
		inspections: make(map[string]models.Inspection),
		responses:   make(map[string]map[int64]models.Response),
		attachments: make(map[string]api.AttachmentRef),
	}
}

// clone copies the maps. Stored values are never mutated in place, so the
// values themselves can be shared.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.templates {
		c.templates[k] = v
	}
	for k, v := range s.versions {
		c.versions[k] = v
	}
	for k, v := range s.inspections {
		c.inspections[k] = v
	}
	for k, rs := range s.responses {
		m := make(map[int64]models.Response, len(rs))
		for seq, r := range rs {
			m[seq] = r
		}
		c.responses[k] = m
	}
	for k, v := range s.attachments {
		c.attachments[k] = v
	}
	return c
}

// Store implements repomanager.RepositoryManager.
type Store struct {
	mu    sync.Mutex
	state *state
}

var _ repomanager.RepositoryManager = (*Store)(nil)

func NewStore() *Store {
	return &Store{state: newState()}
}

func (s *Store) RunMigrations(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, r repomanager.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, repos{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

type repos struct {
	st *state
}

func (r repos) Templates() templates.Repository     { return templateRepo(r) }
func (r repos) Inspections() inspections.Repository { return inspectionRepo(r) }
func (r repos) Attachments() attachments.Repository { return attachmentRepo(r) }

// copyVersion deep-copies entities so callers may modify the result.
func copyVersion(v forms.Version) forms.Version {
	c := v
	if v.PublishedAt != nil {
		t := *v.PublishedAt
		c.PublishedAt = &t
	}
	c.Entities = make([]forms.Entity, len(v.Entities))
	for i, e := range v.Entities {
		e.Rows = append([]forms.Row(nil), e.Rows...)
		for j := range e.Rows {
			e.Rows[j].Choices = append([]string(nil), e.Rows[j].Choices...)
		}
		c.Entities[i] = e
	}
	return c
}

type templateRepo repos

func (r templateRepo) EnsureTemplate(_ context.Context, id, name string) error {
	if cur, ok := r.st.templates[id]; !ok || name != "" && cur != name {
		r.st.templates[id] = name
	}
	return nil
}

func (r templateRepo) ListTemplates(context.Context) ([]forms.Template, error) {
	out := make([]forms.Template, 0, len(r.st.templates))
	for id, name := range r.st.templates {
		t := forms.Template{ID: id, Name: name}
		for _, v := range r.st.versions {
			if v.TemplateID == id {
				t.Versions = append(t.Versions, copyVersion(v))
			}
		}
		sort.Slice(t.Versions, func(i, j int) bool { return t.Versions[i].Number < t.Versions[j].Number })
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r templateRepo) NextVersionNumber(_ context.Context, templateID string) (int, error) {
	n := 0
	for _, v := range r.st.versions {
		if v.TemplateID == templateID {
			n = max(n, v.Number)
		}
	}
	return n + 1, nil
}

func (r templateRepo) InsertVersion(_ context.Context, v *forms.Version) error {
	if _, ok := r.st.versions[v.ID]; ok {
		return fmt.Errorf("version %s already exists", v.ID)
	}
	if _, ok := r.st.templates[v.TemplateID]; !ok {
		return fmt.Errorf("template %s: %w", v.TemplateID, common.ErrNotFound)
	}
	for _, other := range r.st.versions {
		if other.TemplateID == v.TemplateID && other.Number == v.Number {
			return fmt.Errorf("version %d of %s already exists", v.Number, v.TemplateID)
		}
	}
	r.st.versions[v.ID] = copyVersion(*v)
	return nil
}

func (r templateRepo) GetVersion(_ context.Context, versionID string) (*forms.Version, error) {
	v, ok := r.st.versions[versionID]
	if !ok {
		return nil, common.ErrNotFound
	}
	c := copyVersion(v)
	return &c, nil
}

func (r templateRepo) UpdateVersion(_ context.Context, v *forms.Version) error {
	cur, ok := r.st.versions[v.ID]
	if !ok || cur.IsPublished() {
		return fmt.Errorf("version %s: %w", v.ID, common.ErrVersionImmutable)
	}
	cur.Status = v.Status
	cur.PublishedAt = v.PublishedAt
	cur.Entities = v.Entities
	r.st.versions[v.ID] = copyVersion(cur)
	return nil
}

type inspectionRepo repos

func (r inspectionRepo) Get(_ context.Context, id string) (*models.Inspection, error) {
	i, ok := r.st.inspections[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &i, nil
}

func (r inspectionRepo) Create(_ context.Context, i *models.Inspection) error {
	if _, ok := r.st.inspections[i.ID]; ok {
		return fmt.Errorf("inspection %s already exists", i.ID)
	}
	if _, ok := r.st.versions[i.VersionID]; !ok {
		return fmt.Errorf("version %s: %w", i.VersionID, common.ErrNotFound)
	}
	r.st.inspections[i.ID] = *i
	return nil
}

func (r inspectionRepo) Update(_ context.Context, i *models.Inspection) error {
	if _, ok := r.st.inspections[i.ID]; !ok {
		return common.ErrNotFound
	}
	r.st.inspections[i.ID] = *i
	return nil
}

func (r inspectionRepo) PutResponses(_ context.Context, rs []models.Response) error {
	for _, resp := range rs {
		m, ok := r.st.responses[resp.InspectionID]
		if !ok {
			m = make(map[int64]models.Response)
			r.st.responses[resp.InspectionID] = m
		}
		if _, dup := m[resp.Sequence]; !dup {
			m[resp.Sequence] = resp
		}
	}
	return nil
}

func (r inspectionRepo) ListResponses(_ context.Context, inspectionID string) ([]models.Response, error) {
	m := r.st.responses[inspectionID]
	out := make([]models.Response, 0, len(m))
	for _, resp := range m {
		out = append(out, resp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

type attachmentRepo repos

func (r attachmentRepo) GetByKey(_ context.Context, key string) (*api.AttachmentRef, error) {
	ref, ok := r.st.attachments[key]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &ref, nil
}

func (r attachmentRepo) Insert(_ context.Context, key string, ref *api.AttachmentRef) error {
	if _, ok := r.st.attachments[key]; !ok {
		r.st.attachments[key] = *ref
	}
	return nil
}

func (r attachmentRepo) ListByInspection(_ context.Context, inspectionID string) ([]api.AttachmentRef, error) {
	var out []api.AttachmentRef
	for _, ref := range r.st.attachments {
		if ref.InspectionID == inspectionID {
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StoredAt.Equal(out[j].StoredAt) {
			return out[i].StoredAt.Before(out[j].StoredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
