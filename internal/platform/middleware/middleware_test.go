package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/recordsvc/internal/platform/apperr"
)

// stack wires the request-scoped middleware the way the server does and
// serves one request against h.
func stack(logs *bytes.Buffer, h echo.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	logger := zerolog.New(logs)
	e := echo.New()
	e.HTTPErrorHandler = apperr.ErrorHandler(logger)
	e.Use(RequestID(), Recovery(logger), Logger(logger))
	e.Any("/*", h)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated when absent", "", false},
		{"caller id kept", "trace-abc", true},
		{"oversized id replaced", strings.Repeat("x", 129), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			var seen string
			rec := stack(&bytes.Buffer{}, func(c echo.Context) error {
				seen, _ = c.Get("request_id").(string)
				return c.NoContent(http.StatusNoContent)
			}, req)

			got := rec.Header().Get(RequestIDHeader)
			if got != seen {
				t.Errorf("header %q differs from context %q", got, seen)
			}
			if tt.keep && got != tt.incoming {
				t.Errorf("expected %q to be kept, got %q", tt.incoming, got)
			}
			if !tt.keep && len(got) != 36 {
				t.Errorf("expected a generated uuid, got %q", got)
			}
		})
	}
}

func logLine(t *testing.T, logs *bytes.Buffer, msg string) map[string]any {
	t.Helper()
	for _, line := range bytes.Split(logs.Bytes(), []byte("\n")) {
		var m map[string]any
		if json.Unmarshal(line, &m) == nil && m["message"] == msg {
			return m
		}
	}
	t.Fatalf("no %q line in %s", msg, logs.String())
	return nil
}

func TestLogger(t *testing.T) {
	tests := []struct {
		name   string
		h      echo.HandlerFunc
		status float64
		level  string
	}{
		{
			name:   "success",
			h:      func(c echo.Context) error { return c.NoContent(http.StatusCreated) },
			status: 201,
			level:  "info",
		},
		{
			name:   "echo error",
			h:      func(echo.Context) error { return echo.NewHTTPError(http.StatusForbidden, "no") },
			status: 403,
			level:  "error",
		},
		{
			name:   "domain error",
			h:      func(echo.Context) error { return apperr.New(apperr.NotFound, "Paciente não encontrado") },
			status: 404,
			level:  "error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			req := httptest.NewRequest(http.MethodPost, "/api/patients", nil)
			rec := stack(&logs, tt.h, req)

			if float64(rec.Code) != tt.status {
				t.Errorf("response status %d, want %v", rec.Code, tt.status)
			}
			line := logLine(t, &logs, "request")
			if line["status"] != tt.status || line["level"] != tt.level {
				t.Errorf("logged status=%v level=%v, want %v %s", line["status"], line["level"], tt.status, tt.level)
			}
			if line["path"] != "/api/patients" || line["method"] != "POST" {
				t.Errorf("unexpected request fields %v", line)
			}
			if line["request_id"] != rec.Header().Get(RequestIDHeader) {
				t.Errorf("request id not logged: %v", line["request_id"])
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	var logs bytes.Buffer
	rec := stack(&logs, func(echo.Context) error {
		panic("boom")
	}, httptest.NewRequest(http.MethodGet, "/explode", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Errorf("panic value leaked to the client: %s", rec.Body.String())
	}
	if line := logLine(t, &logs, "panic recovered"); line["panic"] != "boom" {
		t.Errorf("unexpected panic log %v", line)
	}
}
