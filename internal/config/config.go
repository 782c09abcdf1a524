package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Auth modes.
const (
	AuthDevelopment = "development"
	AuthJWT         = "jwt"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	StoreDriver       string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	SQLitePath        string        `mapstructure:"SQLITE_PATH"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant     string        `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	FrontendURL       string        `mapstructure:"FRONTEND_URL"`
	AuthMode          string        `mapstructure:"AUTH_MODE"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL       string        `mapstructure:"AUTH_JWKS_URL"`
	JWTSigningKey     string        `mapstructure:"JWT_SIGNING_KEY"`
	BcryptCost        int           `mapstructure:"BCRYPT_COST"`
	StartupRetries    int           `mapstructure:"STARTUP_RETRIES"`
	StartupRetryDelay time.Duration `mapstructure:"STARTUP_RETRY_DELAY"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	MetricsEnabled    bool          `mapstructure:"METRICS_ENABLED"`
}

var keys = []string{
	"PORT", "ENV", "STORE_DRIVER", "DATABASE_URL", "SQLITE_PATH",
	"DB_MAX_CONNS", "DB_MIN_CONNS", "DEFAULT_TENANT", "CORS_ORIGINS", "FRONTEND_URL",
	"AUTH_MODE", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "JWT_SIGNING_KEY",
	"BCRYPT_COST", "STARTUP_RETRIES", "STARTUP_RETRY_DELAY", "REQUEST_TIMEOUT",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "METRICS_ENABLED",
}

// Load reads the environment, then an optional .env file in the working
// directory. It does not validate; call Validate before use.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("SQLITE_PATH", "recordsvc.db")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("AUTH_MODE", "") // inferred from ENV
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("STARTUP_RETRIES", 5)
	v.SetDefault("STARTUP_RETRY_DELAY", time.Second)
	v.SetDefault("REQUEST_TIMEOUT", 30*time.Second)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("METRICS_ENABLED", true)

	// Unmarshal only sees env vars that are bound.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	if len(cfg.CORSOrigins) == 0 {
		if cfg.FrontendURL != "" {
			cfg.CORSOrigins = []string{cfg.FrontendURL}
		} else {
			cfg.CORSOrigins = []string{"*"}
		}
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set, otherwise "development" in
// the development environment and "jwt" everywhere else.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthDevelopment
	}
	return AuthJWT
}

// TenantSchema is the Postgres schema of the default tenant.
func (c *Config) TenantSchema() string {
	return "tenant_" + c.DefaultTenant
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is %q", DriverSQLite)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.StoreDriver)
	}

	switch mode := c.ResolvedAuthMode(); mode {
	case AuthDevelopment:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE %q is not allowed when ENV is production", mode)
		}
	case AuthJWT:
		if c.JWTSigningKey == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf("AUTH_MODE %q needs JWT_SIGNING_KEY or AUTH_JWKS_URL", mode)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthDevelopment, AuthJWT, mode)
	}

	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be within [4,31], got %d", c.BcryptCost)
	}
	if c.StartupRetries < 1 {
		return fmt.Errorf("STARTUP_RETRIES must be at least 1, got %d", c.StartupRetries)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.DefaultTenant == "" || strings.ContainsAny(c.DefaultTenant, " ;\"'") {
		return fmt.Errorf("DEFAULT_TENANT %q is not a valid schema suffix", c.DefaultTenant)
	}
	return nil
}
