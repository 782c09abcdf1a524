// Package sqlitedb opens the embedded SQLite store used when the service runs
// without Postgres, applies its migrations and classifies constraint errors.
package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ehr/recordsvc/internal/platform/db"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Open opens the database at path with foreign keys enforced and a busy
// timeout. An in-memory database is limited to one connection, since every
// new connection would see an empty database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		path = "recordsvc.db"
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}

	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")

	sqldb, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == MemoryPath {
		sqldb.SetMaxOpenConns(1)
	}
	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return sqldb, nil
}

// Migrate applies the pending migrations in fsys, each in its own
// transaction, and returns how many were applied.
func Migrate(ctx context.Context, sqldb *sql.DB, fsys fs.FS) (int, error) {
	if _, err := sqldb.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return 0, fmt.Errorf("create _migrations table: %w", err)
	}

	migrations, err := db.ReadMigrations(fsys)
	if err != nil {
		return 0, err
	}

	applied := make(map[int]bool)
	rows, err := sqldb.QueryContext(ctx, `SELECT version FROM _migrations`)
	if err != nil {
		return 0, fmt.Errorf("query applied versions: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate applied versions: %w", err)
	}

	count := 0
	for _, mig := range migrations {
		if applied[mig.Version] {
			continue
		}
		if err := apply(ctx, sqldb, mig); err != nil {
			return count, fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		count++
	}
	return count, nil
}

func apply(ctx context.Context, sqldb *sql.DB, mig db.Migration) error {
	tx, err := sqldb.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return fmt.Errorf("execute SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO _migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		mig.Version, mig.Name, FormatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

// IsUniqueViolation reports whether err is a UNIQUE constraint failure.
func IsUniqueViolation(err error) bool {
	return isConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE, "UNIQUE constraint failed")
}

// IsForeignKeyViolation reports whether err is a FOREIGN KEY constraint failure.
func IsForeignKeyViolation(err error) bool {
	return isConstraint(err, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY, "FOREIGN KEY constraint failed")
}

func isConstraint(err error, extended int, text string) bool {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	code := sqlErr.Code()
	if code == extended {
		return true
	}
	// Primary code only when extended result codes are off.
	return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqlErr.Error(), text)
}

// TimeLayout is the fixed-width UTC text form of stored timestamps. Its
// lexical order is chronological, so ORDER BY works on the raw column.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime reads a timestamp written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// Placeholder renders the n-th bind parameter in numbered form, so statements
// can bind the same argument list as their Postgres counterparts.
func Placeholder(n int) string {
	return "?" + strconv.Itoa(n)
}

// Bool renders b as the 0/1 integer SQLite stores.
func Bool(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Stats is the connection summary reported by the health endpoint.
type Stats struct {
	OpenConns int `json:"open_conns"`
	InUse     int `json:"in_use"`
	Idle      int `json:"idle"`
	MaxOpen   int `json:"max_open"`
}

// Probe adapts a database handle to db.HealthHandler.
func Probe(sqldb *sql.DB) (func(context.Context) error, func() any) {
	return sqldb.PingContext, func() any {
		s := sqldb.Stats()
		return &Stats{OpenConns: s.OpenConnections, InUse: s.InUse, Idle: s.Idle, MaxOpen: s.MaxOpenConnections}
	}
}
