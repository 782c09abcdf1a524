package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/ehr/recordsvc/internal/platform/auth"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// ExemptPrefixes are path prefixes never limited, e.g. probes.
	ExemptPrefixes []string
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
		ExemptPrefixes:    []string{"/health", "/metrics"},
	}
}

// limiterStore holds one token bucket per client key.
type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      RateLimitConfig
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	return &limiterStore{limiters: make(map[string]*rate.Limiter), cfg: cfg}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.BurstSize)
		s.limiters[key] = l
	}
	return l
}

// retryAfter is the whole number of seconds until l grants one token.
func retryAfter(l *rate.Limiter, now time.Time) int {
	r := l.ReserveN(now, 1)
	defer r.CancelAt(now)
	if !r.OK() {
		return 1
	}
	secs := int(math.Ceil(r.DelayFrom(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// RateLimit limits each client IP to a token bucket. Requests over the limit
// get 429 with Retry-After.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newLimiterStore(cfg)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			for _, p := range cfg.ExemptPrefixes {
				if strings.HasPrefix(path, p) {
					return next(c)
				}
			}

			key := c.RealIP()
			if tenantID, ok := c.Get(auth.TenantKey).(string); ok && tenantID != "" {
				key = tenantID + ":" + key
			}

			l := store.get(key)
			now := time.Now()
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			if !l.AllowN(now, 1) {
				h.Set("Retry-After", strconv.Itoa(retryAfter(l, now)))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "Muitas requisições")
			}
			return next(c)
		}
	}
}
