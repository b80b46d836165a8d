// Package services holds the sync server's business logic: authoring the
// template catalog and accepting inspection responses, completions and
// attachments from field runners.
package services
