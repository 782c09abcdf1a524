package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/recordsvc/internal/platform/apperr"
)

// Logger writes one line per request. Requests that failed are logged at
// error level with the status the error handler will render.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}

			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", statusOf(c, err)).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}

// statusOf is the status the error handler will write for err. It runs before
// the error is rendered, so the response status is not yet final.
func statusOf(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	return apperr.BodyFor(err).StatusCode
}
