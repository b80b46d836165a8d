package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/api"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/forms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", "tok-1", 2*time.Second)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestHTTPClient_SubmitResponses(t *testing.T) {
	var got api.ResponseBatch
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/inspections/insp-1/responses", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "insp-1:1-2", r.Header.Get(common.IdempotencyKeyHeader))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, api.BatchAck{AcknowledgedUpTo: 2})
	})

	batch := &api.ResponseBatch{
		TemplateID: "t-42", VersionID: "v-3",
		SequenceStart: 1, SequenceEnd: 2,
		Drafts: []api.Draft{
			{RowID: "r-1", Value: forms.PassFail(true), Sequence: 1},
			{RowID: "r-2", Value: forms.Number(42.5), Sequence: 2},
		},
		IdempotencyKey: "insp-1:1-2",
	}

	ack, err := c.SubmitResponses(context.Background(), "insp-1", batch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ack.AcknowledgedUpTo)
	assert.Equal(t, forms.Number(42.5), got.Drafts[1].Value)
}

func TestHTTPClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		want   error
	}{
		{"conflict", http.StatusConflict, api.SequenceConflict{ExpectedSequence: 3}, common.ErrSequenceConflict},
		{"gone", http.StatusGone, api.ErrorBody{Error: "inspection completed"}, common.ErrInspectionClosed},
		{"unprocessable", http.StatusUnprocessableEntity, api.ErrorBody{Error: "version not published"}, common.ErrVersionUnavailable},
		{"invalid draft", http.StatusUnprocessableEntity, api.ErrorBody{Error: "value must be a number", Code: api.CodeInvalidValue}, common.ErrInvalidValue},
		{"bad request", http.StatusBadRequest, api.ErrorBody{Error: "invalid value"}, common.ErrRejected},
		{"unauthorized", http.StatusUnauthorized, api.ErrorBody{Error: "no token"}, common.ErrUnauthorized},
		{"rate limited", http.StatusTooManyRequests, api.ErrorBody{Error: "slow down"}, common.ErrUnavailable},
		{"server error", http.StatusBadGateway, nil, common.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})

			_, err := c.SubmitResponses(context.Background(), "insp-1", &api.ResponseBatch{IdempotencyKey: "insp-1:1-1"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHTTPClient_InvalidDraftIsNotAVersionProblem(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, api.ErrorBody{Error: "value must be a number", Code: api.CodeInvalidValue})
	})

	_, err := c.SubmitResponses(context.Background(), "insp-1", &api.ResponseBatch{})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrRejected)
	assert.NotErrorIs(t, err, common.ErrVersionUnavailable)
	assert.True(t, common.IsPermanent(err))
	assert.Contains(t, err.Error(), "value must be a number")
}

func TestHTTPClient_ConflictCarriesExpectedSequence(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, api.SequenceConflict{ExpectedSequence: 5, Error: "gap"})
	})

	_, err := c.SubmitResponses(context.Background(), "insp-1", &api.ResponseBatch{})
	var conflict *SequenceConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(5), conflict.Expected)
	assert.True(t, common.IsPermanent(err))
}

func TestHTTPClient_TimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := NewHTTPClient(srv.URL, "", 50*time.Millisecond)
	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, common.IsTransient(err))
}

func TestHTTPClient_CancelledContextIsNotTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Ping(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, common.IsTransient(err))
}

func TestHTTPClient_UploadAttachment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/inspections/insp-1/rows/r-3/attachments", r.URL.Path)
		assert.Equal(t, "hash:att-1", r.Header.Get(common.IdempotencyKeyHeader))
		assert.Equal(t, "att-1", r.Header.Get(common.AttachmentIDHeader))
		assert.Equal(t, "hash", r.Header.Get(common.ContentHashHeader))
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "jpeg-bytes", string(body))
		writeJSON(w, http.StatusCreated, api.AttachmentRef{ID: "att-1", ContentHash: "hash", Size: int64(len(body))})
	})

	ref, err := c.UploadAttachment(context.Background(), &AttachmentUpload{
		InspectionID: "insp-1", RowID: "r-3", AttachmentID: "att-1",
		ContentHash: "hash", MimeType: "image/jpeg", Filename: "flue.jpg",
		IdempotencyKey: "hash:att-1", Body: []byte("jpeg-bytes"),
	})
	require.NoError(t, err)
	assert.Equal(t, "att-1", ref.ID)
	assert.Equal(t, int64(10), ref.Size)
}

func TestHTTPClient_FetchTemplatesAndPing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz":
			w.WriteHeader(http.StatusOK)
		case "/forms/templates":
			writeJSON(w, http.StatusOK, api.TemplatesResponse{Templates: []forms.Template{{ID: "t-42", Name: "Boiler"}}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	require.NoError(t, c.Ping(context.Background()))

	tpls, err := c.FetchTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, tpls, 1)
	assert.Equal(t, "t-42", tpls[0].ID)
}
