package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/recordsvc/internal/config"
	"github.com/ehr/recordsvc/internal/domain/account"
	"github.com/ehr/recordsvc/internal/domain/patient"
	"github.com/ehr/recordsvc/internal/platform/apperr"
	"github.com/ehr/recordsvc/internal/platform/auth"
	"github.com/ehr/recordsvc/internal/platform/db"
	"github.com/ehr/recordsvc/internal/platform/middleware"
	"github.com/ehr/recordsvc/internal/platform/sqlitedb"
	"github.com/ehr/recordsvc/internal/platform/telemetry"
	"github.com/ehr/recordsvc/migrations"
)

const version = "0.1.0"

// store is the storage backend chosen by STORE_DRIVER.
type store struct {
	accounts account.Repository
	patients patient.Repository
	health   echo.HandlerFunc
	// scope runs on /api before the handlers; nil when the backend needs none.
	scope echo.MiddlewareFunc
	close func()
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// retry calls fn until it succeeds, attempts run out or ctx ends, sleeping
// delay between attempts.
func retry(ctx context.Context, attempts int, delay time.Duration, logger zerolog.Logger, what string, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		logger.Warn().Err(err).Int("attempt", i).Int("of", attempts).Msgf("%s failed, retrying", what)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: giving up after %d attempt(s): %w", what, attempts, err)
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		return openSQLite(ctx, cfg, logger)
	default:
		return openPostgres(ctx, cfg, logger)
	}
}

func openPostgres(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*store, error) {
	var s *store
	err := retry(ctx, cfg.StartupRetries, cfg.StartupRetryDelay, logger, "connect to postgres", func(ctx context.Context) error {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		fsys, err := migrations.Postgres()
		if err != nil {
			pool.Close()
			return err
		}
		count, err := db.NewMigrator(pool, fsys).Up(ctx, cfg.TenantSchema())
		if err != nil {
			pool.Close()
			return fmt.Errorf("migrate %s: %w", cfg.TenantSchema(), err)
		}
		logger.Info().Str("schema", cfg.TenantSchema()).Int("applied", count).Msg("migrations up to date")

		ping, stats := db.PoolProbe(pool)
		s = &store{
			accounts: account.NewRepoPG(pool),
			patients: patient.NewRepoPG(pool),
			health:   db.HealthHandler(config.DriverPostgres, ping, stats),
			scope:    db.TenantMiddleware(pool, cfg.DefaultTenant),
			close:    pool.Close,
		}
		return nil
	})
	return s, err
}

func openSQLite(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*store, error) {
	var s *store
	err := retry(ctx, cfg.StartupRetries, cfg.StartupRetryDelay, logger, "open sqlite", func(ctx context.Context) error {
		sqldb, err := sqlitedb.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		fsys, err := migrations.SQLite()
		if err != nil {
			_ = sqldb.Close()
			return err
		}
		count, err := sqlitedb.Migrate(ctx, sqldb, fsys)
		if err != nil {
			_ = sqldb.Close()
			return fmt.Errorf("migrate %s: %w", cfg.SQLitePath, err)
		}
		logger.Info().Str("path", cfg.SQLitePath).Int("applied", count).Msg("migrations up to date")

		ping, stats := sqlitedb.Probe(sqldb)
		s = &store{
			accounts: account.NewRepoSQLite(sqldb),
			patients: patient.NewRepoSQLite(sqldb),
			health:   db.HealthHandler(config.DriverSQLite, ping, stats),
			close:    func() { _ = sqldb.Close() },
		}
		return nil
	})
	return s, err
}

// authMiddleware picks bearer verification for the configured auth mode.
func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	var verify echo.MiddlewareFunc
	if cfg.JWTSigningKey != "" || cfg.AuthJWKSURL != "" {
		verify = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.JWTSigningKey),
		})
	}
	if cfg.ResolvedAuthMode() == config.AuthDevelopment {
		return auth.DevAuthMiddleware(verify)
	}
	return verify
}

// newServer assembles the HTTP surface over st.
func newServer(cfg *config.Config, logger zerolog.Logger, st *store, metrics *telemetry.Metrics) *echo.Echo {
	accounts := account.NewService(st.accounts, account.NewBcryptHasher(cfg.BcryptCost))
	patients := patient.NewService(st.patients, accounts)
	accounts.SetObserver(metrics)
	patients.SetObserver(metrics)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Tenant-ID"},
	}))

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	e.Use(middleware.RateLimit(rateLimitCfg))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(metrics.MetricsMiddleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", st.health)
	e.GET("/metrics", metrics.PrometheusHandler())

	api := e.Group("/api")
	api.Use(authMiddleware(cfg))
	if st.scope != nil {
		api.Use(st.scope)
	}
	api.Use(middleware.Audit(logger, "/api/", nil))

	account.NewHandler(accounts).RegisterRoutes(api)
	patient.NewHandler(patients).RegisterRoutes(api)

	return e
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		bootLog := newLogger(nil)
		bootLog.Error().Err(err).Msg("failed to load config")
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
		return err
	}
	defer st.close()
	logger.Info().Str("driver", cfg.StoreDriver).Msg("store ready")

	metrics := telemetry.NewMetrics(telemetry.TelemetryConfig{
		Enabled:           telemetry.BoolPtr(cfg.MetricsEnabled),
		RuntimeCollectors: true,
	})
	e := newServer(cfg, logger, st, metrics)

	serveErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
			return err
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
