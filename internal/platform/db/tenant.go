package db

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/ehr/recordsvc/internal/platform/auth"
)

type contextKey string

const (
	TenantIDKey contextKey = "tenant_id"
	DBConnKey   contextKey = "db_conn"
)

var validTenant = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// tenantSources are consulted in order; the first non-empty value wins.
var tenantSources = []func(echo.Context) string{
	func(c echo.Context) string { s, _ := c.Get(auth.TenantKey).(string); return s },
	func(c echo.Context) string { return c.Request().Header.Get("X-Tenant-ID") },
	func(c echo.Context) string { return c.QueryParam("tenant_id") },
}

func resolveTenant(c echo.Context, fallback string) string {
	for _, src := range tenantSources {
		if id := src(c); id != "" {
			return id
		}
	}
	return fallback
}

// SchemaName returns the Postgres schema holding a tenant's tables.
func SchemaName(tenantID string) string {
	return "tenant_" + tenantID
}

func searchPath(tenantID string) string {
	return "SET search_path TO " + pgx.Identifier{SchemaName(tenantID)}.Sanitize() + ", public"
}

// TenantMiddleware binds a pooled connection to each request with its
// search_path set to the caller's tenant schema. Repositories find it through
// ConnFromContext. The search_path is reset before the connection returns to
// the pool.
func TenantMiddleware(pool *pgxpool.Pool, defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenant := resolveTenant(c, defaultTenant)
			if !validTenant.MatchString(tenant) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			req := c.Request()
			conn, err := pool.Acquire(req.Context())
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer func() {
				if _, err := conn.Exec(context.Background(), "RESET search_path"); err != nil {
					// Drop a connection we cannot clean.
					conn.Hijack().Close(context.Background())
					return
				}
				conn.Release()
			}()

			if _, err := conn.Exec(req.Context(), searchPath(tenant)); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "tenant resolution failed")
			}

			ctx := context.WithValue(req.Context(), TenantIDKey, tenant)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(req.WithContext(ctx))
			c.Set("tenant_id", tenant)
			return next(c)
		}
	}
}

// ConnFromContext returns the tenant-scoped connection, or nil outside
// TenantMiddleware.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

func TenantFromContext(ctx context.Context) string {
	id, _ := ctx.Value(TenantIDKey).(string)
	return id
}

// CreateTenantSchema provisions the schema for tenantID and applies fsys to
// it. A nil fsys only creates the empty schema.
func CreateTenantSchema(ctx context.Context, pool *pgxpool.Pool, tenantID string, fsys fs.FS) error {
	if !validTenant.MatchString(tenantID) {
		return fmt.Errorf("invalid tenant identifier %q", tenantID)
	}
	schema := SchemaName(tenantID)

	if fsys == nil {
		if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
			return fmt.Errorf("create schema %s: %w", schema, err)
		}
		return nil
	}
	if _, err := NewMigrator(pool, fsys).Up(ctx, schema); err != nil {
		return fmt.Errorf("provision %s: %w", schema, err)
	}
	return nil
}
