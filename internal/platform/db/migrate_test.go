package db

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/ehr/recordsvc/migrations"
)

func TestReadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"001_core.sql":     {Data: []byte("CREATE TABLE account (id UUID PRIMARY KEY);")},
		"002_patient.sql":  {Data: []byte("CREATE TABLE patient (id UUID PRIMARY KEY);")},
		"003_indexes.sql":  {Data: []byte("CREATE INDEX idx ON patient (id);")},
		"README.md":        {Data: []byte("not a migration")},
		"notes_draft.sql":  {Data: []byte("SELECT 1;")},
		"nested/004_x.sql": {Data: []byte("SELECT 4;")},
	}

	migrations, err := ReadMigrations(fsys)
	if err != nil {
		t.Fatalf("ReadMigrations() error: %v", err)
	}

	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "001_core.sql" {
		t.Errorf("unexpected first migration %+v", migrations[0])
	}
	if migrations[0].SQL != "CREATE TABLE account (id UUID PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
	if migrations[2].Version != 3 {
		t.Errorf("expected version 3, got %d", migrations[2].Version)
	}
}

func TestReadMigrations_SortOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"010_tables.sql": {Data: []byte("SELECT 10;")},
		"002_second.sql": {Data: []byte("SELECT 2;")},
		"001_first.sql":  {Data: []byte("SELECT 1;")},
		"005_middle.sql": {Data: []byte("SELECT 5;")},
	}

	migrations, err := ReadMigrations(fsys)
	if err != nil {
		t.Fatalf("ReadMigrations() error: %v", err)
	}

	want := []int{1, 2, 5, 10}
	if len(migrations) != len(want) {
		t.Fatalf("expected %d migrations, got %d", len(want), len(migrations))
	}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("position %d: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
}

func TestReadMigrations_Embedded(t *testing.T) {
	pg, err := migrations.Postgres()
	if err != nil {
		t.Fatalf("postgres migrations: %v", err)
	}
	list, err := ReadMigrations(pg)
	if err != nil {
		t.Fatalf("ReadMigrations() error: %v", err)
	}
	if len(list) == 0 {
		t.Fatal("expected embedded postgres migrations")
	}
	if list[0].Version != 1 {
		t.Errorf("expected first embedded version 1, got %d", list[0].Version)
	}
}

func TestReadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_core.sql":  {Data: []byte("SELECT 1;")},
		"001_again.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := ReadMigrations(fsys); err == nil {
		t.Fatal("expected an error for a repeated version")
	}
}

func TestMigrationStatus_Applied(t *testing.T) {
	var s MigrationStatus
	if s.Applied() {
		t.Error("zero status reported as applied")
	}
	now := time.Now()
	s.AppliedAt = &now
	if !s.Applied() {
		t.Error("status with a time reported as pending")
	}
}
