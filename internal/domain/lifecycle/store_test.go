package lifecycle_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ehr/recordsvc/internal/domain/lifecycle"
	"github.com/ehr/recordsvc/internal/platform/sqlitedb"
)

// TestConditionalUpdate_MatchesApply runs every transition from every
// reachable status through the SQL stores execute and compares the written
// row with Engine.Apply.
func TestConditionalUpdate_MatchesApply(t *testing.T) {
	ctx := context.Background()
	sqldb, err := sqlitedb.Open(ctx, sqlitedb.MemoryPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = sqldb.Close() })

	if _, err := sqldb.ExecContext(ctx, `CREATE TABLE entity (
		id TEXT PRIMARY KEY,
		is_active INTEGER NOT NULL,
		is_deleted INTEGER NOT NULL,
		deleted_at TEXT,
		updated_at TEXT NOT NULL
	)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	engine := lifecycle.NewEngine(lifecycle.Messages{
		AlreadyActive: "active", AlreadyInactive: "inactive", AlreadyDeleted: "deleted",
	})
	earlier := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	at := earlier.Add(48 * time.Hour)

	starts := map[string]lifecycle.Status{
		"active":           lifecycle.Initial(),
		"inactive":         {},
		"deleted active":   {IsActive: true, IsDeleted: true, DeletedAt: &earlier},
		"deleted inactive": {IsDeleted: true, DeletedAt: &earlier},
	}
	transitions := []lifecycle.Transition{lifecycle.Activate, lifecycle.Deactivate, lifecycle.SoftDelete}

	n := 0
	for name, start := range starts {
		for _, tr := range transitions {
			n++
			id := fmt.Sprintf("row-%d", n)
			t.Run(name+"/"+tr.String(), func(t *testing.T) {
				var deletedAt any
				if start.DeletedAt != nil {
					deletedAt = sqlitedb.FormatTime(*start.DeletedAt)
				}
				if _, err := sqldb.ExecContext(ctx,
					`INSERT INTO entity (id, is_active, is_deleted, deleted_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
					id, sqlitedb.Bool(start.IsActive), sqlitedb.Bool(start.IsDeleted), deletedAt, sqlitedb.FormatTime(earlier),
				); err != nil {
					t.Fatalf("insert: %v", err)
				}

				want, checkErr := engine.Apply(start, tr, at)

				q := tr.ConditionalUpdate("entity", "is_active, is_deleted, deleted_at", sqlitedb.Placeholder)
				var (
					active, deleted int
					stamp           sql.NullString
				)
				err := sqldb.QueryRowContext(ctx, q,
					id, sqlitedb.Bool(tr.Guard().Value), sqlitedb.Bool(tr.Effect().Value), sqlitedb.FormatTime(at),
				).Scan(&active, &deleted, &stamp)

				if checkErr != nil {
					if !errors.Is(err, sql.ErrNoRows) {
						t.Fatalf("Apply rejected (%v) but the update wrote a row (err=%v)", checkErr, err)
					}
					return
				}
				if err != nil {
					t.Fatalf("update: %v", err)
				}
				if (active == 1) != want.IsActive || (deleted == 1) != want.IsDeleted {
					t.Errorf("row flags active=%d deleted=%d, Apply gave %+v", active, deleted, want)
				}
				switch {
				case want.DeletedAt == nil && stamp.Valid:
					t.Errorf("row stamped deleted_at %s, Apply left it empty", stamp.String)
				case want.DeletedAt != nil && stamp.String != sqlitedb.FormatTime(*want.DeletedAt):
					t.Errorf("row deleted_at %q, Apply gave %s", stamp.String, want.DeletedAt)
				}
			})
		}
	}
}
