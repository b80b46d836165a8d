// Package cli provides the fieldrunner command-line client.
//
// It wires configuration, the local SQLite store, the runner services and the
// sync engine behind a cobra command tree. Every command works offline:
// answers, attachments and completions are written to the capture queue and
// sent when the server is reachable, either by `sync`, by the foreground
// `run` loop, or by the background engine of the interactive `shell`.
//
// Typical flow:
//
//	fieldrunner login
//	fieldrunner catalog refresh
//	id=$(fieldrunner open boiler --job J-17)
//	fieldrunner answer $id r-flame pass
//	fieldrunner attach $id r-photo flue.jpg
//	fieldrunner complete $id
//	fieldrunner sync
package cli
