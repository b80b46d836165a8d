// Package client contains the field runner's connection to the outside world.
//
// # Overview
//
// The package provides:
//  1. A transport contract (see the Client interface) for everything the sync
//     engine needs from the server: Ping, FetchTemplates, SubmitResponses,
//     CompleteInspection and UploadAttachment.
//  2. A concrete HTTP/JSON implementation (see HTTPClient) built on resty that
//     injects the bearer token and maps status codes to sentinel errors.
//  3. Local persistence bootstrap (InitDatabase, RunMigrations) wiring an
//     SQLite database and applying the embedded goose migrations.
//
// # Error Handling
//
// Status codes are translated to the sentinels of internal/common so callers
// can classify failures with common.IsTransient / common.IsPermanent:
//
//	transport error, timeout, 429, 5xx -> common.ErrUnavailable
//	401, 403                           -> common.ErrUnauthorized
//	409                                -> *SequenceConflictError (common.ErrSequenceConflict)
//	410                                -> common.ErrInspectionClosed
//	422 with code invalid_value        -> common.ErrRejected (common.ErrInvalidValue)
//	other 422                          -> common.ErrVersionUnavailable
//	other 4xx                          -> common.ErrRejected
//
// Cancellation of the caller's context is returned as is and is neither
// transient nor permanent.
package client
