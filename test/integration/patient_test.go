package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/ehr/recordsvc/internal/domain/patient"
	"github.com/ehr/recordsvc/internal/platform/apperr"
)

func TestPatientCRUD(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("pat")
	createTenantSchema(t, ctx, tenantID)

	doctor := createTestDoctor(t, ctx, tenantID, "house@x.com")
	_, patients := services()

	var created *patient.Patient
	t.Run("Create", func(t *testing.T) {
		created = createTestPatient(t, ctx, tenantID, doctor.ID, "Mary Ann", "MARY@x.com")
		if created.ID == uuid.Nil {
			t.Fatal("expected ID to be set")
		}
		if created.Email != "mary@x.com" {
			t.Errorf("expected lowercased email, got %s", created.Email)
		}
		if created.Birthday == nil || created.Birthday.Format("2006-01-02") != "1990-05-17" {
			t.Errorf("unexpected birthday %v", created.Birthday)
		}
	})

	t.Run("FindByID", func(t *testing.T) {
		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			got, err := patients.FindByID(ctx, created.ID)
			if err != nil {
				return err
			}
			if got.Name != "Mary Ann" || got.DoctorID != doctor.ID {
				t.Errorf("unexpected patient %+v", got)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("find: %v", err)
		}
	})

	t.Run("Update_ClearsPhone", func(t *testing.T) {
		in, err := patient.ValidateUpdate(map[string]any{"phone": nil, "city": "Olinda"})
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		err = withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			got, err := patients.Update(ctx, created.ID, in)
			if err != nil {
				return err
			}
			if got.Phone != nil {
				t.Errorf("expected phone cleared, got %q", *got.Phone)
			}
			if got.City == nil || *got.City != "Olinda" {
				t.Errorf("unexpected city %v", got.City)
			}
			if !got.UpdatedAt.After(created.UpdatedAt) && !got.UpdatedAt.Equal(created.UpdatedAt) {
				t.Error("updated_at went backwards")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
	})

	t.Run("Lifecycle", func(t *testing.T) {
		err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			if _, err := patients.Activate(ctx, created.ID); !apperr.Is(err, apperr.InvalidState) {
				t.Errorf("activate on active: expected InvalidState, got %v", err)
			}
			if _, err := patients.Deactivate(ctx, created.ID); err != nil {
				t.Errorf("deactivate: %v", err)
			}
			deleted, err := patients.SoftDelete(ctx, created.ID)
			if err != nil {
				return err
			}
			if !deleted.IsDeleted || deleted.DeletedAt == nil {
				t.Errorf("expected deleted with stamp, got %+v", deleted)
			}
			if _, err := patients.SoftDelete(ctx, created.ID); !apperr.Is(err, apperr.AlreadyGone) {
				t.Errorf("second delete: expected AlreadyGone, got %v", err)
			}
			again, err := patients.FindByID(ctx, created.ID)
			if err != nil {
				return err
			}
			if !again.DeletedAt.Equal(*deleted.DeletedAt) {
				t.Error("deleted_at changed after the first deletion")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("lifecycle: %v", err)
		}
	})

	t.Run("UnknownDoctor", func(t *testing.T) {
		in, err := patient.ValidateCreate(map[string]any{
			"doctorId": uuid.NewString(),
			"name":     "Nobody",
			"email":    "nobody@x.com",
		})
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		err = withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
			_, err := patients.Create(ctx, in)
			return err
		})
		if !apperr.Is(err, apperr.NotFound) {
			t.Fatalf("expected NotFound, got %v", err)
		}
	})
}

func TestPatientListByDoctor(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("list")
	createTenantSchema(t, ctx, tenantID)

	house := createTestDoctor(t, ctx, tenantID, "house@x.com")
	wilson := createTestDoctor(t, ctx, tenantID, "wilson@x.com")

	first := createTestPatient(t, ctx, tenantID, house.ID, "First Patient", "first@x.com")
	second := createTestPatient(t, ctx, tenantID, house.ID, "Second Patient", "second@x.com")
	createTestPatient(t, ctx, tenantID, wilson.ID, "Other Patient", "other@x.com")

	_, patients := services()
	err := withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
		list, err := patients.FindAllByDoctor(ctx, house.ID)
		if err != nil {
			return err
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 patients, got %d", len(list))
		}
		if list[0].ID != second.ID || list[1].ID != first.ID {
			t.Errorf("expected newest first, got %s then %s", list[0].Name, list[1].Name)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
}

func TestPatientConcurrentSoftDelete(t *testing.T) {
	ctx := context.Background()
	tenantID := uniqueTenantID("race")
	createTenantSchema(t, ctx, tenantID)

	doctor := createTestDoctor(t, ctx, tenantID, "race@x.com")
	p := createTestPatient(t, ctx, tenantID, doctor.ID, "Racy Patient", "racy@x.com")
	_, patients := services()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = withTenantConn(ctx, globalDB.Pool, tenantID, func(ctx context.Context) error {
				_, err := patients.SoftDelete(ctx, p.ID)
				return err
			})
		}(i)
	}
	wg.Wait()

	ok, gone := 0, 0
	for _, err := range errs {
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
