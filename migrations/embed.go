package migrations

import "embed"

// Files exposes the goose SQL migrations, one directory per dialect.
//
//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS

// Directory names inside Files.
const (
	PostgresDir = "postgres"
	SQLiteDir   = "sqlite"
)
