package db

import (
	"cmp"
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Migration is one forward-only SQL file named NNN_description.sql.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationStatus pairs a migration with the time it was applied, if any.
type MigrationStatus struct {
	Migration
	AppliedAt *time.Time
}

func (s MigrationStatus) Applied() bool { return s.AppliedAt != nil }

// ReadMigrations parses the *.sql files at the root of fsys. Files without a
// numeric version prefix are ignored; two files sharing a version are an
// error.
func ReadMigrations(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	seen := make(map[int]string, len(names))
	out := make([]Migration, 0, len(names))
	for _, name := range names {
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, name, version)
		}
		seen[version] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		out = append(out, Migration{Version: version, Name: name, SQL: string(body)})
	}

	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

// Migrator applies migrations to one schema at a time. Runs against the same
// schema are serialized with a session advisory lock, so several replicas may
// start concurrently.
type Migrator struct {
	pool *pgxpool.Pool
	fsys fs.FS
}

func NewMigrator(pool *pgxpool.Pool, fsys fs.FS) *Migrator {
	return &Migrator{pool: pool, fsys: fsys}
}

// Up applies every pending migration in version order, each in its own
// transaction, and returns how many ran.
func (m *Migrator) Up(ctx context.Context, schema string) (int, error) {
	all, err := ReadMigrations(m.fsys)
	if err != nil {
		return 0, err
	}

	applied := 0
	err = m.withSchemaLock(ctx, schema, func(conn *pgxpool.Conn) error {
		done, err := appliedAt(ctx, conn, schema)
		if err != nil {
			return err
		}
		for _, mig := range all {
			if _, ok := done[mig.Version]; ok {
				continue
			}
			if err := runOne(ctx, conn, schema, mig); err != nil {
				return fmt.Errorf("migration %s: %w", mig.Name, err)
			}
			applied++
		}
		return nil
	})
	return applied, err
}

// Status lists every known migration with its applied time.
func (m *Migrator) Status(ctx context.Context, schema string) ([]MigrationStatus, error) {
	all, err := ReadMigrations(m.fsys)
	if err != nil {
		return nil, err
	}

	var out []MigrationStatus
	err = m.withSchemaLock(ctx, schema, func(conn *pgxpool.Conn) error {
		done, err := appliedAt(ctx, conn, schema)
		if err != nil {
			return err
		}
		out = make([]MigrationStatus, len(all))
		for i, mig := range all {
			out[i].Migration = mig
			if at, ok := done[mig.Version]; ok {
				out[i].AppliedAt = &at
			}
		}
		return nil
	})
	return out, err
}

// withSchemaLock runs fn on a dedicated connection holding the schema's
// advisory lock, after making sure the schema and its ledger table exist.
func (m *Migrator) withSchemaLock(ctx context.Context, schema string, fn func(*pgxpool.Conn) error) error {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock(hashtext($1))", schema); err != nil {
		return fmt.Errorf("lock schema %s: %w", schema, err)
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock(hashtext($1))", schema)
	}()

	q := pgx.Identifier{schema}.Sanitize()
	ddl := "CREATE SCHEMA IF NOT EXISTS " + q + ";\n" +
		"CREATE TABLE IF NOT EXISTS " + q + `._migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("prepare schema %s: %w", schema, err)
	}
	return fn(conn)
}

func appliedAt(ctx context.Context, conn *pgxpool.Conn, schema string) (map[int]time.Time, error) {
	rows, err := conn.Query(ctx,
		"SELECT version, applied_at FROM "+pgx.Identifier{schema, "_migrations"}.Sanitize())
	if err != nil {
		return nil, fmt.Errorf("read ledger of %s: %w", schema, err)
	}
	done := make(map[int]time.Time)
	var (
		v  int
		at time.Time
	)
	_, err = pgx.ForEachRow(rows, []any{&v, &at}, func() error {
		done[v] = at
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read ledger of %s: %w", schema, err)
	}
	return done, nil
}

func runOne(ctx context.Context, conn *pgxpool.Conn, schema string, mig Migration) error {
	return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		// Unqualified names in the file resolve to the target schema.
		if _, err := tx.Exec(ctx, "SELECT set_config('search_path', $1, true)",
			pgx.Identifier{schema}.Sanitize()+", public"); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, mig.SQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "INSERT INTO _migrations (version, name) VALUES ($1, $2)", mig.Version, mig.Name)
		return err
	})
}
