// Package migrations embeds SQL migration files for use at runtime.
// Migrations are embedded so they work regardless of working directory.
// Each dialect carries its own ordered set of files with identical
// numbering.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

// FS is the embedded migrations filesystem, one directory per dialect
// (e.g. sqlite/001_initial.sql, postgres/001_initial.sql).
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

// ForDialect returns the migration files for one dialect ("sqlite" or
// "postgres").
func ForDialect(dialect string) (fs.FS, error) {
	switch dialect {
	case "sqlite", "postgres":
		sub, err := fs.Sub(FS, dialect)
		if err != nil {
			return nil, fmt.Errorf("migrations: %s: %w", dialect, err)
		}
		return sub, nil
	default:
		return nil, fmt.Errorf("migrations: unknown dialect %q", dialect)
	}
}
