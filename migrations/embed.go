// Package migrations embeds the SQL schema per dialect.
package migrations

import "embed"

// PostgresFS holds the postgres migrations under "postgres".
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// SQLiteFS holds the sqlite migrations under "sqlite".
//
//go:embed sqlite/*.sql
var SQLiteFS embed.FS
