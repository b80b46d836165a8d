// Package api holds the JSON bodies exchanged between the field runner and
// the sync server.
package api

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/forms"
)

// Draft is one answer as it travels inside a response batch.
type Draft struct {
	RowID     string      `json:"rowId"`
	Value     forms.Value `json:"value"`
	Notes     string      `json:"notes,omitempty"`
	Sequence  int64       `json:"sequence"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// ResponseBatch is the body of POST /inspections/{id}/responses.
// TemplateID, VersionID, JobID and SiteID bind the inspection on the first
// batch and are checked for consistency afterwards.
type ResponseBatch struct {
	TemplateID     string  `json:"templateId"`
	VersionID      string  `json:"versionId"`
	JobID          string  `json:"jobId,omitempty"`
	SiteID         string  `json:"siteId,omitempty"`
	SequenceStart  int64   `json:"sequenceStart"`
	SequenceEnd    int64   `json:"sequenceEnd"`
	Drafts         []Draft `json:"drafts"`
	IdempotencyKey string  `json:"idempotencyKey"`
}

type BatchAck struct {
	AcknowledgedUpTo int64 `json:"acknowledgedUpTo"`
}

// SequenceConflict is the 409 body.
type SequenceConflict struct {
	ExpectedSequence int64  `json:"expectedSequence"`
	Error            string `json:"error,omitempty"`
}

// CompletionRequest is the body of POST /inspections/{id}/complete.
type CompletionRequest struct {
	TemplateID     string    `json:"templateId"`
	VersionID      string    `json:"versionId"`
	FinalSequence  int64     `json:"finalSequence"`
	CompletedAt    time.Time `json:"completedAt"`
	IdempotencyKey string    `json:"idempotencyKey"`
}

type CompletionAck struct {
	InspectionID string    `json:"inspectionId"`
	CompletedAt  time.Time `json:"completedAt"`
}

// AttachmentRef is the server's handle for a stored attachment.
type AttachmentRef struct {
	ID           string    `json:"id"`
	InspectionID string    `json:"inspectionId"`
	RowID        string    `json:"rowId"`
	ContentHash  string    `json:"contentHash"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	URL          string    `json:"url,omitempty"`
	StoredAt     time.Time `json:"storedAt"`
}

// InspectionView is the server's record of one inspection, returned by
// GET /inspections/{id}.
type InspectionView struct {
	ID               string          `json:"id"`
	TemplateID       string          `json:"templateId"`
	VersionID        string          `json:"versionId"`
	JobID            string          `json:"jobId,omitempty"`
	SiteID           string          `json:"siteId,omitempty"`
	Status           string          `json:"status"`
	LastAcknowledged int64           `json:"lastAcknowledged"`
	CompletedAt      *time.Time      `json:"completedAt,omitempty"`
	Responses        []Draft         `json:"responses"`
	Attachments      []AttachmentRef `json:"attachments"`
}

type TemplatesResponse struct {
	Templates []forms.Template `json:"templates"`
}

// ErrorBody is the generic error payload. Code, when set, tells apart
// failures that share a status code.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes carried by 422 responses.
const (
	CodeInvalidValue       = "invalid_value"
	CodeVersionUnavailable = "version_unavailable"
)

// ResponsesKey is the idempotency key of a response batch.
func ResponsesKey(inspectionID string, start, end int64) string {
	return fmt.Sprintf("%s:%d-%d", inspectionID, start, end)
}

// AttachmentKey is the idempotency key of an attachment upload.
func AttachmentKey(contentHash, attachmentID string) string {
	return contentHash + ":" + attachmentID
}

// CompletionKey is the idempotency key of the completion signal.
func CompletionKey(inspectionID string) string {
	return inspectionID + ":complete"
}
