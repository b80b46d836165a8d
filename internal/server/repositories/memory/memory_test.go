package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/api"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/forms"
	"github.com/dmitrijs2005/fieldsync/internal/server/models"
	"github.com/dmitrijs2005/fieldsync/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draftVersion() *forms.Version {
	return &forms.Version{
		ID: "v1", TemplateID: "boiler", Number: 1, Status: forms.StatusDraft,
		Entities: []forms.Entity{{ID: "e-1", Name: "Burner", Rows: []forms.Row{
			{ID: "r1", FieldType: forms.FieldChoice, Choices: []string{"ok", "worn"}},
		}}},
	}
}

func TestWithTx_RollbackDiscardsChanges(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		require.NoError(t, r.Templates().EnsureTemplate(ctx, "boiler", "Boiler"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		got, err := r.Templates().ListTemplates(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
		return nil
	}))
}

func TestTemplates_VersionsAreCopied(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		require.NoError(t, r.Templates().EnsureTemplate(ctx, "boiler", "Boiler"))
		return r.Templates().InsertVersion(ctx, draftVersion())
	}))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		v, err := r.Templates().GetVersion(ctx, "v1")
		require.NoError(t, err)
		v.Entities[0].Rows[0].Choices[0] = "changed"

		again, err := r.Templates().GetVersion(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, "ok", again.Entities[0].Rows[0].Choices[0])

		n, err := r.Templates().NextVersionNumber(ctx, "boiler")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		return nil
	}))
}

func TestTemplates_PublishedVersionIsImmutable(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	err := s.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		require.NoError(t, r.Templates().EnsureTemplate(ctx, "boiler", "Boiler"))
		v := draftVersion()
		require.NoError(t, r.Templates().InsertVersion(ctx, v))

		now := time.Now()
		v.Status, v.PublishedAt = forms.StatusPublished, &now
		require.NoError(t, r.Templates().UpdateVersion(ctx, v))

		return r.Templates().UpdateVersion(ctx, v)
	})
	assert.ErrorIs(t, err, common.ErrVersionImmutable)
}

func TestInspections_ResponsesKeepFirstWrite(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		require.NoError(t, r.Templates().EnsureTemplate(ctx, "boiler", "Boiler"))
		require.NoError(t, r.Templates().InsertVersion(ctx, draftVersion()))
		require.NoError(t, r.Inspections().Create(ctx, &models.Inspection{ID: "i1", VersionID: "v1", Status: models.InspectionOpen, CreatedAt: now}))

		require.NoError(t, r.Inspections().PutResponses(ctx, []models.Response{
			{InspectionID: "i1", Sequence: 2, RowID: "r1", Value: forms.Choice("worn")},
			{InspectionID: "i1", Sequence: 1, RowID: "r1", Value: forms.Choice("ok")},
		}))
		return r.Inspections().PutResponses(ctx, []models.Response{
			{InspectionID: "i1", Sequence: 2, RowID: "r1", Value: forms.Choice("ok")},
		})
	}))

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		rs, err := r.Inspections().ListResponses(ctx, "i1")
		require.NoError(t, err)
		require.Len(t, rs, 2)
		assert.Equal(t, int64(1), rs[0].Sequence)
		assert.Equal(t, forms.Choice("worn"), rs[1].Value)

		_, err = r.Inspections().Get(ctx, "missing")
		assert.ErrorIs(t, err, common.ErrNotFound)
		return nil
	}))
}

func TestAttachments_KeyMapsToFirstRef(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		require.NoError(t, r.Attachments().Insert(ctx, "h:a1", &api.AttachmentRef{ID: "a1", InspectionID: "i1"}))
		require.NoError(t, r.Attachments().Insert(ctx, "h:a1", &api.AttachmentRef{ID: "other", InspectionID: "i1"}))

		ref, err := r.Attachments().GetByKey(ctx, "h:a1")
		require.NoError(t, err)
		assert.Equal(t, "a1", ref.ID)

		refs, err := r.Attachments().ListByInspection(ctx, "i1")
		require.NoError(t, err)
		assert.Len(t, refs, 1)
		return nil
	}))
}
