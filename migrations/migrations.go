package migrations

import "embed"

// Postgres holds the summarykit schema migrations, applied in file name order.
//
//go:embed postgres/*.sql
var Postgres embed.FS
