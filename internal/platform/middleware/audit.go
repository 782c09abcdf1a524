package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/recordsvc/internal/platform/auth"
)

// AuditEntry records who touched which record, when, and with what outcome.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Resource   string
	RecordID   string
	Action     string
	IPAddress  string
	UserAgent  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every request under prefix (e.g. "/api/") as a record_access
// event, and hands it to recorder when one is given.
func Audit(logger zerolog.Logger, prefix string, recorder AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !strings.HasPrefix(path, prefix) {
				return next(c)
			}

			err := next(c)

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: statusOf(c, err),
				UserID:     auth.UserIDFromContext(req.Context()),
				UserRoles:  auth.RolesFromContext(req.Context()),
				Action:     actionFor(req.Method, path),
			}
			entry.Resource, entry.RecordID = splitResource(strings.TrimPrefix(path, prefix))
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			if recorder != nil {
				if recErr := recorder.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("record_id", entry.RecordID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("record_access")

			return err
		}
	}
}

// actionFor names the operation a method and path perform.
func actionFor(method, path string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPatch, http.MethodPut:
		switch {
		case strings.HasSuffix(path, "/activate"):
			return "activate"
		case strings.HasSuffix(path, "/deactivate"):
			return "deactivate"
		case strings.HasSuffix(path, "/soft-delete"):
			return "soft_delete"
		}
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// splitResource returns the first two segments of rest, e.g.
// "patients/<id>/activate" gives ("patients", "<id>").
func splitResource(rest string) (resource, id string) {
	segments := strings.SplitN(strings.Trim(rest, "/"), "/", 3)
	resource = segments[0]
	if resource == "" {
		resource = "unknown"
	}
	if len(segments) > 1 {
		id = segments[1]
	}
	return resource, id
}
