// Package migrations embeds the Postgres schema of the ledger node.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
