package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/api"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/forms"
	"github.com/go-resty/resty/v2"
)

// Client is the server contract consumed by the sync engine.
type Client interface {
	Ping(ctx context.Context) error
	FetchTemplates(ctx context.Context) ([]forms.Template, error)
	SubmitResponses(ctx context.Context, inspectionID string, batch *api.ResponseBatch) (*api.BatchAck, error)
	CompleteInspection(ctx context.Context, inspectionID string, req *api.CompletionRequest) (*api.CompletionAck, error)
	UploadAttachment(ctx context.Context, up *AttachmentUpload) (*api.AttachmentRef, error)
}

// AttachmentUpload carries one evidence file and its identity headers.
type AttachmentUpload struct {
	InspectionID   string
	RowID          string
	AttachmentID   string
	ContentHash    string
	MimeType       string
	Filename       string
	IdempotencyKey string
	Body           []byte
}

// SequenceConflictError is returned on 409 and carries the sequence the
// server expects next.
type SequenceConflictError struct {
	Expected int64
	Message  string
}

func (e *SequenceConflictError) Error() string {
	return fmt.Sprintf("sequence conflict: server expects %d", e.Expected)
}

func (e *SequenceConflictError) Unwrap() error { return common.ErrSequenceConflict }

// HTTPClient implements Client over HTTP/JSON.
type HTTPClient struct {
	http *resty.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient returns a client for baseURL. timeout bounds every request;
// token, when set, is sent as a bearer token.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &HTTPClient{http: c}
}

// SetToken replaces the bearer token sent with subsequent requests.
func (c *HTTPClient) SetToken(token string) {
	c.http.SetAuthToken(token)
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	r, err := c.http.R().SetContext(ctx).Get("/healthz")
	return mapError(ctx, r, err)
}

func (c *HTTPClient) FetchTemplates(ctx context.Context) ([]forms.Template, error) {
	var resp api.TemplatesResponse
	r, err := c.http.R().SetContext(ctx).
		SetResult(&resp).
		SetError(&api.ErrorBody{}).
		Get("/forms/templates")
	if err := mapError(ctx, r, err); err != nil {
		return nil, fmt.Errorf("fetch templates: %w", err)
	}
	return resp.Templates, nil
}

func (c *HTTPClient) SubmitResponses(ctx context.Context, inspectionID string, batch *api.ResponseBatch) (*api.BatchAck, error) {
	var ack api.BatchAck
	r, err := c.http.R().SetContext(ctx).
		SetPathParam("id", inspectionID).
		SetHeader(common.IdempotencyKeyHeader, batch.IdempotencyKey).
		SetBody(batch).
		SetResult(&ack).
		SetError(&api.SequenceConflict{}).
		Post("/inspections/{id}/responses")
	if err := mapError(ctx, r, err); err != nil {
		return nil, fmt.Errorf("submit %s: %w", batch.IdempotencyKey, err)
	}
	return &ack, nil
}

func (c *HTTPClient) CompleteInspection(ctx context.Context, inspectionID string, req *api.CompletionRequest) (*api.CompletionAck, error) {
	var ack api.CompletionAck
	r, err := c.http.R().SetContext(ctx).
		SetPathParam("id", inspectionID).
		SetHeader(common.IdempotencyKeyHeader, req.IdempotencyKey).
		SetBody(req).
		SetResult(&ack).
		SetError(&api.SequenceConflict{}).
		Post("/inspections/{id}/complete")
	if err := mapError(ctx, r, err); err != nil {
		return nil, fmt.Errorf("complete %s: %w", inspectionID, err)
	}
	return &ack, nil
}

func (c *HTTPClient) UploadAttachment(ctx context.Context, up *AttachmentUpload) (*api.AttachmentRef, error) {
	var ref api.AttachmentRef
	r, err := c.http.R().SetContext(ctx).
		SetPathParams(map[string]string{"id": up.InspectionID, "rowId": up.RowID}).
		SetHeader(common.IdempotencyKeyHeader, up.IdempotencyKey).
		SetHeader(common.AttachmentIDHeader, up.AttachmentID).
		SetHeader(common.ContentHashHeader, up.ContentHash).
		SetHeader(common.FilenameHeader, up.Filename).
		SetHeader("Content-Type", up.MimeType).
		SetBody(up.Body).
		SetResult(&ref).
		SetError(&api.ErrorBody{}).
		Post("/inspections/{id}/rows/{rowId}/attachments")
	if err := mapError(ctx, r, err); err != nil {
		return nil, fmt.Errorf("upload %s: %w", up.IdempotencyKey, err)
	}
	return &ref, nil
}

// mapError converts a transport error or non-2xx response into a sentinel.
func mapError(ctx context.Context, r *resty.Response, err error) error {
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	if !r.IsError() && r.StatusCode() < http.StatusBadRequest {
		return nil
	}

	msg := errorMessage(r)
	switch code := r.StatusCode(); {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", common.ErrUnauthorized, msg)
	case code == http.StatusConflict:
		conflict := &SequenceConflictError{Message: msg}
		if body, ok := r.Error().(*api.SequenceConflict); ok {
			conflict.Expected = body.ExpectedSequence
		}
		return conflict
	case code == http.StatusGone:
		return fmt.Errorf("%w: %s", common.ErrInspectionClosed, msg)
	case code == http.StatusUnprocessableEntity:
		if body, ok := r.Error().(*api.ErrorBody); ok && body.Code == api.CodeInvalidValue {
			return fmt.Errorf("%w: %w: %s", common.ErrRejected, common.ErrInvalidValue, msg)
		}
		return fmt.Errorf("%w: %s", common.ErrVersionUnavailable, msg)
	case code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", common.ErrUnavailable, msg)
	default:
		return fmt.Errorf("%w: %s", common.ErrRejected, msg)
	}
}

func errorMessage(r *resty.Response) string {
	switch body := r.Error().(type) {
	case *api.ErrorBody:
		if body.Error != "" {
			return body.Error
		}
	case *api.SequenceConflict:
		if body.Error != "" {
			return body.Error
		}
	}
	return r.Status()
}
