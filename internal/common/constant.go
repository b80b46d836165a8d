// Package common contains shared constants and sentinel errors used across
// FieldSync components.
package common

// Header names used on the sync HTTP surface.
const (
	IdempotencyKeyHeader = "Idempotency-Key"
	AttachmentIDHeader   = "X-Attachment-Id"
	ContentHashHeader    = "X-Content-Hash"
	FilenameHeader       = "X-Filename"
)
