// Package migrations embeds the audit store's SQL migrations into the binary.
package migrations

import "embed"

// FS holds every *.sql file in this directory at its root. Pass it to
// database.DB.Migrate with dir ".".
//
//go:embed *.sql
var FS embed.FS
