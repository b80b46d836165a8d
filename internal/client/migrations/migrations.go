// Package migrations embeds the goose migrations of the runner's local store.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
