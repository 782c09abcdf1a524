package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/recordsvc/internal/platform/auth"
)

type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func newAuditContext(method, path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	ctx := context.WithValue(req.Context(), auth.UserIDKey, "user-1")
	ctx = context.WithValue(ctx, auth.UserRolesKey, []string{auth.RoleDoctor})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestAudit_RecordsTransition(t *testing.T) {
	id := uuid.NewString()
	c, _ := newAuditContext(http.MethodPatch, "/api/patients/"+id+"/soft-delete")
	c.Set("request_id", "req-abc")
	rec := &mockRecorder{}

	err := Audit(zerolog.Nop(), "/api/", rec)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(rec.entries))
	}
	e := rec.entries[0]
	if e.Resource != "patients" || e.RecordID != id || e.Action != "soft_delete" {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.UserID != "user-1" || e.RequestID != "req-abc" || e.StatusCode != http.StatusOK {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestAudit_SkipsOtherPaths(t *testing.T) {
	c, _ := newAuditContext(http.MethodGet, "/health")
	rec := &mockRecorder{}

	Audit(zerolog.Nop(), "/api/", rec)(func(c echo.Context) error { return nil })(c)

	if len(rec.entries) != 0 {
		t.Errorf("expected no audit entry, got %d", len(rec.entries))
	}
}

func TestAudit_CapturesErrorStatus(t *testing.T) {
	c, _ := newAuditContext(http.MethodGet, "/api/users")
	rec := &mockRecorder{}

	Audit(zerolog.Nop(), "/api/", rec)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "no")
	})(c)

	if rec.entries[0].StatusCode != http.StatusForbidden || rec.entries[0].Action != "read" {
		t.Errorf("unexpected entry %+v", rec.entries[0])
	}
	if rec.entries[0].RecordID != "" {
		t.Errorf("expected no record id for a collection, got %q", rec.entries[0].RecordID)
	}
}

func TestAudit_RecorderFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newAuditContext(http.MethodPost, "/api/users")
	rec := &mockRecorder{err: errors.New("disk full")}

	err := Audit(zerolog.New(&buf), "/api/", rec)(func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	})(c)
	if err != nil {
		t.Fatalf("recorder failure must not fail the request: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "failed to record audit entry") || !strings.Contains(out, `"action":"create"`) {
		t.Errorf("unexpected log output %s", out)
	}
}

func TestActionFor(t *testing.T) {
	tests := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/api/users", "read"},
		{http.MethodPost, "/api/users", "create"},
		{http.MethodPatch, "/api/users/1", "update"},
		{http.MethodPatch, "/api/users/1/activate", "activate"},
		{http.MethodPatch, "/api/users/1/deactivate", "deactivate"},
	}
	for _, tt := range tests {
		if got := actionFor(tt.method, tt.path); got != tt.want {
			t.Errorf("actionFor(%s, %s) = %s, want %s", tt.method, tt.path, got, tt.want)
		}
	}
}
