// Package migrations embeds the SQL schema for every supported store.
// Files are applied in the order of their numeric prefix.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Postgres returns the migrations for a Postgres tenant schema.
func Postgres() (fs.FS, error) {
	return fs.Sub(files, "postgres")
}

// SQLite returns the migrations for an embedded SQLite database.
func SQLite() (fs.FS, error) {
	return fs.Sub(files, "sqlite")
}
