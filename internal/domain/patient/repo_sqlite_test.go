package patient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/recordsvc/internal/domain/account"
	"github.com/ehr/recordsvc/internal/domain/lifecycle"
	"github.com/ehr/recordsvc/internal/platform/apperr"
	"github.com/ehr/recordsvc/internal/platform/sqlitedb"
	"github.com/ehr/recordsvc/migrations"
)

type sqliteFixture struct {
	accounts account.Repository
	patients Repository
	doctor   uuid.UUID
}

func newSQLiteFixture(t *testing.T) *sqliteFixture {
	t.Helper()
	ctx := context.Background()
	sqldb, err := sqlitedb.Open(ctx, sqlitedb.MemoryPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { sqldb.Close() })

	fsys, err := migrations.SQLite()
	if err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if _, err := sqlitedb.Migrate(ctx, sqldb, fsys); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f := &sqliteFixture{
		accounts: account.NewRepoSQLite(sqldb),
		patients: NewRepoSQLite(sqldb),
		doctor:   uuid.New(),
	}
	doc := &account.Account{
		Profile: account.Profile{
			ID:        f.doctor,
			Name:      "Dr. House",
			Email:     "house@x.com",
			Role:      account.RoleDoctor,
			IsActive:  true,
			CreatedAt: testNow,
			UpdatedAt: testNow,
		},
		PasswordHash: "$2a$04$hash",
	}
	if err := f.accounts.Create(ctx, doc); err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	return f
}

func newPatient(doctor uuid.UUID, name string, at time.Time) *Patient {
	return &Patient{
		ID:        uuid.New(),
		DoctorID:  doctor,
		Name:      name,
		Email:     "maria@example.com",
		IsActive:  true,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestRepoSQLite_CreateAndGet(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx := context.Background()
	birthday := time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC)

	p := newPatient(f.doctor, "Maria Silva", testNow)
	p.Phone = strPtr("11999990000")
	p.Birthday = &birthday
	if err := f.patients.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := f.patients.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DoctorID != f.doctor || got.Name != "Maria Silva" {
		t.Errorf("unexpected row %+v", got)
	}
	if got.Phone == nil || *got.Phone != "11999990000" {
		t.Errorf("unexpected phone %v", got.Phone)
	}
	if got.City != nil {
		t.Errorf("expected null city, got %v", *got.City)
	}
	if got.Birthday == nil || !got.Birthday.Equal(birthday) {
		t.Errorf("unexpected birthday %v", got.Birthday)
	}
	if !got.CreatedAt.Equal(testNow) {
		t.Errorf("unexpected createdAt %s", got.CreatedAt)
	}

	if _, err := f.patients.GetByID(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRepoSQLite_UnknownDoctor(t *testing.T) {
	f := newSQLiteFixture(t)
	err := f.patients.Create(context.Background(), newPatient(uuid.New(), "Maria Silva", testNow))
	if !errors.Is(err, ErrOwnerMissing) {
		t.Errorf("expected ErrOwnerMissing, got %v", err)
	}
}

func TestRepoSQLite_ListByDoctor(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx := context.Background()

	older := newPatient(f.doctor, "Older Patient", testNow)
	newer := newPatient(f.doctor, "Newer Patient", testNow.Add(time.Minute))
	for _, p := range []*Patient{older, newer} {
		if err := f.patients.Create(ctx, p); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	ps, err := f.patients.ListByDoctor(ctx, f.doctor)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ps) != 2 || ps[0].ID != newer.ID || ps[1].ID != older.ID {
		t.Errorf("expected newest first, got %v", ps)
	}

	ps, err = f.patients.ListByDoctor(ctx, uuid.New())
	if err != nil || len(ps) != 0 {
		t.Errorf("expected empty list, got %v %v", ps, err)
	}
}

func TestRepoSQLite_UpdateClearsNullable(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx := context.Background()
	p := newPatient(f.doctor, "Maria Silva", testNow)
	p.City = strPtr("Recife")
	p.Phone = strPtr("11999990000")
	if err := f.patients.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	birthday := time.Date(1985, 1, 2, 0, 0, 0, 0, time.UTC)
	ch := Changes{Present: FieldCity | FieldBirthday, City: nil, Birthday: &birthday}
	got, err := f.patients.Update(ctx, p.ID, ch, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.City != nil {
		t.Error("expected city cleared")
	}
	if got.Phone == nil || *got.Phone != "11999990000" {
		t.Error("expected phone untouched")
	}
	if got.Birthday == nil || !got.Birthday.Equal(birthday) {
		t.Errorf("unexpected birthday %v", got.Birthday)
	}
	if !got.UpdatedAt.Equal(testNow.Add(time.Hour)) {
		t.Errorf("unexpected updatedAt %s", got.UpdatedAt)
	}

	if _, err := f.patients.Update(ctx, uuid.New(), ch, testNow); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRepoSQLite_Transition(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx := context.Background()
	p := newPatient(f.doctor, "Maria Silva", testNow)
	if err := f.patients.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.patients.Transition(ctx, p.ID, lifecycle.Activate, testNow); !errors.Is(err, lifecycle.ErrGuardRejected) {
		t.Errorf("expected guard rejection, got %v", err)
	}
	at := testNow.Add(time.Hour)
	got, err := f.patients.Transition(ctx, p.ID, lifecycle.SoftDelete, at)
	if err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if !got.IsDeleted || got.DeletedAt == nil || !got.DeletedAt.Equal(at) {
		t.Errorf("unexpected row after soft delete %+v", got)
	}
	if _, err := f.patients.Transition(ctx, uuid.New(), lifecycle.SoftDelete, at); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRepoSQLite_ServiceConcurrentSoftDelete(t *testing.T) {
	f := newSQLiteFixture(t)
	ctx := context.Background()
	owners := account.NewService(f.accounts, nil)
	svc := NewService(f.patients, owners)

	p, err := svc.Create(ctx, &CreateInput{DoctorID: f.doctor, Name: "Maria Silva", Email: "maria@example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SoftDelete(ctx, p.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, gone int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.Is(err, apperr.AlreadyGone):
			gone++
		default:
			t.Errorf("unexpected error %v", err)
		}
	}
	if ok != 1 || gone != n-1 {
		t.Errorf("expected 1 success and %d AlreadyGone, got %d and %d", n-1, ok, gone)
	}
}

func TestRepoSQLite_ServiceUnknownDoctor(t *testing.T) {
	f := newSQLiteFixture(t)
	svc := NewService(f.patients, account.NewService(f.accounts, nil))

	_, err := svc.Create(context.Background(), &CreateInput{DoctorID: uuid.New(), Name: "Maria Silva", Email: "m@x.com"})
	if !apperr.Is(err, apperr.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}
