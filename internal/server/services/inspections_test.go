package services

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/fieldsync/internal/api"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/cryptox"
	"github.com/dmitrijs2005/fieldsync/internal/forms"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pass() api.Draft { return api.Draft{RowID: "r-flame", Value: forms.PassFail(true)} }

func pressure(n float64) api.Draft {
	return api.Draft{RowID: "r-pressure", Value: forms.Number(n)}
}

func TestSubmitResponses_RegistersAndAcknowledges(t *testing.T) {
	f := newFixture(t)
	v := f.publish(t)
	ctx := context.Background()

	ack, err := f.inspections.SubmitResponses(ctx, tech, "insp-1", batch(v, 1, pass(), pressure(1.5)))
	require.NoError(t, err)
	assert.Equal(t, int64(2), ack.AcknowledgedUpTo)

	ack, err = f.inspections.SubmitResponses(ctx, tech, "insp-1", batch(v, 3, pressure(1.7)))
	require.NoError(t, err)
	assert.Equal(t, int64(3), ack.AcknowledgedUpTo)

	view, err := f.inspections.Inspection(ctx, tech, "insp-1")
	require.NoError(t, err)
	assert.Equal(t, "open", view.Status)
	assert.Equal(t, v.ID, view.VersionID)
	require.Len(t, view.Responses, 3)
	assert.Equal(t, forms.Number(1.7), view.Responses[2].Value)
}

func TestSubmitResponses_ReplayIsNoop(t *testing.T) {
	f := newFixture(t)
	v := f.publish(t)
	ctx := context.Background()

	_, err := f.inspections.SubmitResponses(ctx, tech, "insp-1", batch(v, 1, pass(), pressure(1.5)))
	require.NoError(t, err)

	replay := batch(v, 1, pass(), pressure(9.9))
	ack, err := f.inspections.SubmitResponses(ctx, tech, "insp-1", replay)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ack.AcknowledgedUpTo)

	view, err := f.inspections.Inspection(ctx, tech, "insp-1")
	require.NoError(t, err)
	require.Len(t, view.Responses, 2)
	assert.Equal(t, forms.Number(1.5), view.Responses[1].Value, "first write wins")
}

func TestSubmitResponses_PartialOverlapAppliesNewSequences(t *testing.T) {
	f := newFixture(t)
	v := f.publish(t)
	ctx := context.Background()

	_, err := f.inspections.SubmitResponses(ctx, tech, "insp-1", batch(v, 1, pass(), pressure(1)))
	require.NoError(t, err)

	ack, err := f.inspections.SubmitResponses(ctx, tech, "insp-1", batch(v, 2, pressure(1), pressure(2), pressure(3)))
	require.NoError(t, err)
	assert.Equal(t, int64(4), ack.AcknowledgedUpTo)

	view, err := f.inspections.Inspection(ctx, tech, "insp-1")
	require.NoError(t, err)
	assert.Len(t, view.Responses, 4)
}

func TestSubmitResponses_GapIsConflict(t *testing.T) {
	f := newFixture(t)
	v := f.publish(t)
	ctx := context.Background()

	_, err := f.inspections.SubmitResponses(ctx, tech, "insp-1", batch(v, 3, pass()))
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int64(1), ce.Expected)

	_, err = f.inspections.SubmitResponses(ctx, tech, "insp-1", batch(v, 1, pass()))
	require.NoError(t, err)

	_, err = f.inspections.SubmitResponses(ctx, tech, "insp-1", batch(v, 4, pass()))
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int64(2), ce.Expected)
	assert.ErrorIs(t, err, common.ErrSequenceConflict)
}

func TestSubmitResponses_Rejections(t *testing.T) {
	f := newFixture(t)
	v := f.publish(t)
	ctx := context.Background()

	draft, err := f.catalog.CreateDraft(ctx, "boiler", boilerDefinition())
	require.NoError(t, err)

	tests := []struct {
		name  string
		batch *api.ResponseBatch
		want  error
	}{
		{
			name:  "draft version",
			batch: batch(draft, 1, pass()),
			want:  common.ErrVersionUnavailable,
		},
		{
			name:  "unknown version",
			batch: batch(&forms.Version{ID: "missing", TemplateID: "boiler"}, 1, pass()),
			want:  common.ErrVersionUnavailable,
		},
		{
			name:  "invalid choice",
			batch: batch(v, 1, api.Draft{RowID: "r-state", Value: forms.Choice("broken")}),
			want:  common.ErrInvalidValue,
		},
		{
			name:  "unknown row",
			batch: batch(v, 1, api.Draft{RowID: "r-other", Value: forms.Text("x")}),
			want:  common.ErrInvalidValue,
		},
		{
			name:  "null value",
			batch: batch(v, 1, api.Draft{RowID: "r-flame"}),
			want:  common.ErrRejected,
		},
		{
			name: "count mismatch",
			batch: func() *api.ResponseBatch {
				b := batch(v, 1, pass(), pass())
				b.SequenceEnd = 3
				return b
			}(),
			want: common.ErrRejected,
		},
		{
			name: "non contiguous drafts",
			batch: func() *api.ResponseBatch {
				b := batch(v, 1, pass(), pass())
				b.Drafts[1].Sequence = 5
				return b
			}(),
			want: common.ErrRejected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.inspections.SubmitResponses(ctx, tech, "insp-"+tt.name, tt.batch)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = f.inspections.Inspection(ctx, tech, "insp-null value")
	assert.ErrorIs(t, err, common.ErrNotFound, "a rejected first batch registers nothing")
}

func TestSubmitResponses_OtherTechnicianForbidden(t *testing.T) {
	f := newFixture(t)
	v := f.publish(t)
	ctx := context.Background()

	_, err := f.inspections.SubmitResponses(ctx, tech, "insp-1", batch(v, 1, pass()))
	require.NoError(t, err)
	_, err = f.inspections.SubmitResponses(ctx, "tech-2", "insp-1", batch(v, 2, pass()))
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestComplete(t *testing.T) {
	f := newFixture(t)
	v := f.publish(t)
	ctx := context.Background()

	_, err := f.inspections.SubmitResponses(ctx, tech, "insp-1", batch(v, 1, pass(), pressure(2)))
	require.NoError(t, err)

	req := &api.CompletionRequest{TemplateID: v.TemplateID, VersionID: v.ID, FinalSequence: 1, CompletedAt: fixedNow}
	_, err = f.inspections.Complete(ctx, tech, "insp-1", req)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int64(3), ce.Expected)

	req.FinalSequence = 2
	ack, err := f.inspections.Complete(ctx, tech, "insp-1", req)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, ack.CompletedAt)

	again, err := f.inspections.Complete(ctx, tech, "insp-1", req)
	require.NoError(t, err)
	assert.Equal(t, ack, again)

	_, err = f.inspections.SubmitResponses(ctx, tech, "insp-1", batch(v, 3, pass()))
	assert.ErrorIs(t, err, common.ErrInspectionClosed)
}

func TestComplete_UnknownInspection(t *testing.T) {
	f := newFixture(t)
	v := f.publish(t)
	ctx := context.Background()

	_, err := f.inspections.Complete(ctx, tech, "insp-1", &api.CompletionRequest{VersionID: v.ID, FinalSequence: 4})
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int64(1), ce.Expected)

	ack, err := f.inspections.Complete(ctx, tech, "insp-2", &api.CompletionRequest{TemplateID: v.TemplateID, VersionID: v.ID})
	require.NoError(t, err)
	assert.Equal(t, fixedNow, ack.CompletedAt)

	view, err := f.inspections.Inspection(ctx, tech, "insp-2")
	require.NoError(t, err)
	assert.Equal(t, "completed", view.Status)
}

func upload(body []byte, id string) *AttachmentUpload {
	hash := cryptox.ContentHash(body)
	return &AttachmentUpload{
		InspectionID:   "insp-1",
		RowID:          "r-flame",
		AttachmentID:   id,
		ContentHash:    hash,
		MimeType:       "image/jpeg",
		IdempotencyKey: api.AttachmentKey(hash, id),
		Body:           body,
	}
}

func TestUploadAttachment_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.publish(t)
	ctx := context.Background()

	ref, err := f.inspections.UploadAttachment(ctx, tech, upload([]byte("jpeg"), "att-1"))
	require.NoError(t, err)
	assert.Equal(t, "att-1", ref.ID)
	assert.Equal(t, int64(4), ref.Size)
	assert.Equal(t, "mem://"+"attachments/"+ref.ContentHash[:2]+"/"+ref.ContentHash, ref.URL)

	again, err := f.inspections.UploadAttachment(ctx, tech, upload([]byte("jpeg"), "att-1"))
	require.NoError(t, err)
	assert.Equal(t, ref, again)

	_, err = f.inspections.UploadAttachment(ctx, tech, upload([]byte("jpeg"), "att-2"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.blobs.Writes(), "identical content is stored once")
}

func TestUploadAttachment_Rejections(t *testing.T) {
	f := newFixture(t)
	v := f.publish(t)
	ctx := context.Background()

	bad := upload([]byte("jpeg"), "att-1")
	bad.ContentHash = cryptox.ContentHash([]byte("other"))
	bad.IdempotencyKey = ""
	_, err := f.inspections.UploadAttachment(ctx, tech, bad)
	assert.ErrorIs(t, err, common.ErrRejected)

	big := upload(make([]byte, 2<<20), "att-big")
	_, err = f.inspections.UploadAttachment(ctx, tech, big)
	assert.ErrorIs(t, err, common.ErrRejected)

	_, err = f.inspections.SubmitResponses(ctx, tech, "insp-1", batch(v, 1, pass()))
	require.NoError(t, err)

	wrongRow := upload([]byte("jpeg"), "att-2")
	wrongRow.RowID = "r-unknown"
	_, err = f.inspections.UploadAttachment(ctx, tech, wrongRow)
	assert.ErrorIs(t, err, common.ErrRejected)

	_, err = f.inspections.Complete(ctx, tech, "insp-1", &api.CompletionRequest{VersionID: v.ID, FinalSequence: 1})
	require.NoError(t, err)
	_, err = f.inspections.UploadAttachment(ctx, tech, upload([]byte("late"), "att-3"))
	assert.ErrorIs(t, err, common.ErrInspectionClosed)
}

type failingBlobs struct{}

func (failingBlobs) Put(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("bucket unavailable")
}

func TestUploadAttachment_BlobStoreFailure(t *testing.T) {
	f := newFixture(t)
	svc := NewInspectionService(f.store, failingBlobs{}, 0, logging.NewNop())

	_, err := svc.UploadAttachment(context.Background(), tech, upload([]byte("jpeg"), "att-1"))
	assert.ErrorContains(t, err, "bucket unavailable")

	_, err = f.inspections.Inspection(context.Background(), tech, "insp-1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}
