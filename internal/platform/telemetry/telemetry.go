// Package telemetry exposes Prometheus metrics for the service: outcomes of
// every entity operation, HTTP request latency and in-flight requests.
package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ehr/recordsvc/internal/platform/apperr"
)

// TelemetryConfig holds the metrics configuration.
type TelemetryConfig struct {
	Namespace string
	// Enabled is nil for the default (on).
	Enabled *bool
	// RuntimeCollectors adds the Go runtime and process collectors.
	RuntimeCollectors bool
}

func (c *TelemetryConfig) metricsOn() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

func (c *TelemetryConfig) applyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "recordsvc"
	}
}

// BoolPtr is a helper to create a *bool for TelemetryConfig fields.
func BoolPtr(b bool) *bool {
	return &b
}

// defaultDurationBuckets are the HTTP latency buckets in seconds.
var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics owns a private registry so tests and multiple servers never clash
// on the global one.
type Metrics struct {
	cfg        TelemetryConfig
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inFlight   prometheus.Gauge
}

// NewMetrics registers the service collectors on a fresh registry.
func NewMetrics(cfg TelemetryConfig) *Metrics {
	cfg.applyDefaults()
	m := &Metrics{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "operations_total",
			Help:      "Entity service operations by outcome.",
		}, []string{"entity", "operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   defaultDurationBuckets,
		}, []string{"method", "route", "status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),
	}
	m.registry.MustRegister(m.operations, m.duration, m.inFlight)
	if cfg.RuntimeCollectors {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe counts one entity operation. The outcome is "ok" or the failure
// kind, e.g. "invalid_state".
func (m *Metrics) Observe(entity, operation string, err error) {
	if !m.cfg.metricsOn() {
		return
	}
	m.operations.WithLabelValues(entity, operation, Outcome(err)).Inc()
}

// Outcome names the result of an operation for the outcome label.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.KindOf(err).String()
}

// MetricsMiddleware records latency per route pattern and the number of
// requests in flight.
func (m *Metrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !m.cfg.metricsOn() {
				return next(c)
			}
			m.inFlight.Inc()
			defer m.inFlight.Dec()

			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.duration.
				WithLabelValues(c.Request().Method, route, strconv.Itoa(statusOf(c, err))).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// statusOf is the status the error handler will write for err.
func statusOf(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return apperr.BodyFor(err).StatusCode
}

// PrometheusHandler serves the registry in the Prometheus exposition format.
func (m *Metrics) PrometheusHandler() echo.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
	return func(c echo.Context) error {
		if !m.cfg.metricsOn() {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}
