package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/fieldsync/internal/api"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/server/services"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorBody{Error: message})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, common.ErrInvalidValue):
		return api.CodeInvalidValue
	case errors.Is(err, common.ErrVersionUnavailable):
		return api.CodeVersionUnavailable
	}
	return ""
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrSequenceConflict), errors.Is(err, common.ErrVersionImmutable):
		return http.StatusConflict
	case errors.Is(err, common.ErrInspectionClosed):
		return http.StatusGone
	case errors.Is(err, common.ErrVersionUnavailable), errors.Is(err, common.ErrInvalidValue):
		return http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrRejected):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, common.ErrUnauthorized), errors.Is(err, common.ErrInvalidToken):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// fail writes err with its status. Sequence conflicts carry the expected
// sequence; internal errors are logged and not echoed.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	var conflict *services.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, status, api.SequenceConflict{ExpectedSequence: conflict.Expected, Error: err.Error()})
		return
	}
	if status == http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeJSON(w, status, api.ErrorBody{Error: err.Error(), Code: errorCode(err)})
}
