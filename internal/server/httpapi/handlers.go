package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/fieldsync/internal/api"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/forms"
	"github.com/dmitrijs2005/fieldsync/internal/server/services"
)

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", common.ErrRejected, err)
	}
	return nil
}

func (s *HTTPServer) listTemplates(w http.ResponseWriter, r *http.Request) {
	ts, err := s.catalog.ListTemplates(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ts == nil {
		ts = []forms.Template{}
	}
	writeJSON(w, http.StatusOK, api.TemplatesResponse{Templates: ts})
}

// createVersion appends a version; ?publish=true publishes it at once.
func (s *HTTPServer) createVersion(w http.ResponseWriter, r *http.Request) {
	var def forms.Definition
	if err := decode(r, &def); err != nil {
		s.fail(w, r, err)
		return
	}
	publish, _ := strconv.ParseBool(r.URL.Query().Get("publish"))

	templateID := r.PathValue("templateId")
	var (
		v   *forms.Version
		err error
	)
	if publish {
		v, err = s.catalog.PublishVersion(r.Context(), templateID, &def)
	} else {
		v, err = s.catalog.CreateDraft(r.Context(), templateID, &def)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *HTTPServer) addEntity(w http.ResponseWriter, r *http.Request) {
	var e forms.Entity
	if err := decode(r, &e); err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.catalog.AddEntity(r.Context(), r.PathValue("versionId"), e)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *HTTPServer) publishVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.catalog.Publish(r.Context(), r.PathValue("versionId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *HTTPServer) getInspection(w http.ResponseWriter, r *http.Request) {
	view, err := s.inspections.Inspection(r.Context(), technicianFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) submitResponses(w http.ResponseWriter, r *http.Request) {
	var b api.ResponseBatch
	if err := decode(r, &b); err != nil {
		s.fail(w, r, err)
		return
	}
	if b.IdempotencyKey == "" {
		b.IdempotencyKey = r.Header.Get(common.IdempotencyKeyHeader)
	}
	ack, err := s.inspections.SubmitResponses(r.Context(), technicianFrom(r.Context()), r.PathValue("id"), &b)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (s *HTTPServer) completeInspection(w http.ResponseWriter, r *http.Request) {
	var req api.CompletionRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ack, err := s.inspections.Complete(r.Context(), technicianFrom(r.Context()), r.PathValue("id"), &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (s *HTTPServer) uploadAttachment(w http.ResponseWriter, r *http.Request) {
	if s.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("attachment exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.fail(w, r, fmt.Errorf("%w: read body: %v", common.ErrRejected, err))
		return
	}

	ref, err := s.inspections.UploadAttachment(r.Context(), technicianFrom(r.Context()), &services.AttachmentUpload{
		InspectionID:   r.PathValue("id"),
		RowID:          r.PathValue("rowId"),
		AttachmentID:   r.Header.Get(common.AttachmentIDHeader),
		ContentHash:    r.Header.Get(common.ContentHashHeader),
		MimeType:       r.Header.Get("Content-Type"),
		Filename:       r.Header.Get(common.FilenameHeader),
		IdempotencyKey: r.Header.Get(common.IdempotencyKeyHeader),
		Body:           body,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

// renderPDF belongs to the report renderer, which is a separate service.
func (s *HTTPServer) renderPDF(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotImplemented, "report rendering is not provided by this server")
}
