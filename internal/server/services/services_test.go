package services

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/api"
	"github.com/dmitrijs2005/fieldsync/internal/forms"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/server/blobstore"
	"github.com/dmitrijs2005/fieldsync/internal/server/repositories/memory"
	"github.com/stretchr/testify/require"
)

const tech = "tech-1"

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func boilerDefinition() *forms.Definition {
	return &forms.Definition{
		Name: "Boiler",
		Entities: []forms.Entity{{
			Name:     "Burner",
			Required: true,
			Rows: []forms.Row{
				{ID: "r-flame", Component: "Burner", Activity: "Flame check", FieldType: forms.FieldPassFail},
				{ID: "r-pressure", Component: "Gauge", Activity: "Pressure", FieldType: forms.FieldNumber, Unit: "bar"},
				{ID: "r-state", Component: "Casing", Activity: "State", FieldType: forms.FieldChoice, Choices: []string{"ok", "worn"}},
			},
		}},
	}
}

type fixture struct {
	store       *memory.Store
	blobs       *blobstore.MemoryStore
	catalog     *CatalogService
	inspections *InspectionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	blobs := blobstore.NewMemoryStore()
	log := logging.NewNop()

	c := NewCatalogService(store, log)
	c.now = func() time.Time { return fixedNow }
	i := NewInspectionService(store, blobs, 1<<20, log)
	i.now = func() time.Time { return fixedNow }
	return &fixture{store: store, blobs: blobs, catalog: c, inspections: i}
}

func (f *fixture) publish(t *testing.T) *forms.Version {
	t.Helper()
	v, err := f.catalog.PublishVersion(context.Background(), "boiler", boilerDefinition())
	require.NoError(t, err)
	return v
}

func batch(v *forms.Version, start int64, drafts ...api.Draft) *api.ResponseBatch {
	for i := range drafts {
		drafts[i].Sequence = start + int64(i)
		drafts[i].UpdatedAt = fixedNow
	}
	return &api.ResponseBatch{
		TemplateID:     v.TemplateID,
		VersionID:      v.ID,
		SequenceStart:  start,
		SequenceEnd:    start + int64(len(drafts)) - 1,
		Drafts:         drafts,
		IdempotencyKey: api.ResponsesKey("insp-1", start, start+int64(len(drafts))-1),
	}
}
