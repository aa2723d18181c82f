// Package migrations embeds the schema migration files so the server binary
// can run them without a deploy-time copy of the directory.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
