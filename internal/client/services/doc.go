// Package services contains the field runner's application services.
//
//   - CatalogService caches the server's template catalog and resolves
//     published versions.
//   - RunnerService owns Runner Sessions: answers are validated, kept in
//     memory, saved after a debounce window and only then handed to the
//     capture queue.
//   - CaptureQueue is the durable log of work that still has to reach the
//     server, and the single place that mutates it.
//   - SyncEngine drains the queue: response batches in sequence order,
//     attachments concurrently through the Uploader, then the completion
//     signal.
//
// Every queue mutation runs in an SQLite transaction under one mutex and
// publishes a PendingCountChanged event after commit.
package services
