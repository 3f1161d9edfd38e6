// Package migrations embeds the agent's SQL migrations into the binary.
//
// Pass FS as database.Config.Migrations; the files sit at its root.
package migrations

import "embed"

// FS holds every *.sql migration in this directory.
//
//go:embed *.sql
var FS embed.FS
