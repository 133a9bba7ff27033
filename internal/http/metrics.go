package http

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/dialogd/internal/http"

// Event outcomes recorded on dialogd.session.events.
const (
	outcomeApplied  = "applied"
	outcomeRejected = "rejected"
	outcomeConflict = "conflict"
)

// serverMetrics records request traffic and live session activity.
type serverMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	events   metric.Int64Counter
	open     metric.Int64UpDownCounter
	hits     metric.Int64Histogram
}

// newServerMetrics creates the server instruments on meter, or on the global
// provider when meter is nil. Instruments that fail to register are replaced
// by no-ops.
func newServerMetrics(meter metric.Meter, logger *zap.Logger) *serverMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	var (
		m    serverMetrics
		err  error
		errs []error
	)

	if m.requests, err = meter.Int64Counter("dialogd.http.requests_total",
		metric.WithDescription("HTTP requests by method, route pattern and status"),
		metric.WithUnit("{request}"),
	); err != nil {
		m.requests = noop.Int64Counter{}
		errs = append(errs, err)
	}

	if m.duration, err = meter.Float64Histogram("dialogd.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method and route pattern"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30),
	); err != nil {
		m.duration = noop.Float64Histogram{}
		errs = append(errs, err)
	}

	if m.events, err = meter.Int64Counter("dialogd.session.events_total",
		metric.WithDescription("Session events by type and outcome"),
		metric.WithUnit("{event}"),
	); err != nil {
		m.events = noop.Int64Counter{}
		errs = append(errs, err)
	}

	if m.open, err = meter.Int64UpDownCounter("dialogd.session.open",
		metric.WithDescription("Sessions currently held by the server"),
		metric.WithUnit("{session}"),
	); err != nil {
		m.open = noop.Int64UpDownCounter{}
		errs = append(errs, err)
	}

	if m.hits, err = meter.Int64Histogram("dialogd.search.hits",
		metric.WithDescription("Hits returned per search request"),
		metric.WithUnit("{hit}"),
		metric.WithExplicitBucketBoundaries(0, 1, 5, 10, 25, 50, 100),
	); err != nil {
		m.hits = noop.Int64Histogram{}
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil && logger != nil {
		logger.Warn("some http instruments are unavailable", zap.Error(err))
	}
	return &m
}

// middleware records one request count and latency per request, labelled
// by the matched route pattern.
func (m *serverMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			// Let echo's error handler settle the status before it is read.
			if err != nil {
				c.Error(err)
			}

			ctx := c.Request().Context()
			route := attribute.String("route", routeLabel(c.Path()))
			method := attribute.String("method", c.Request().Method)
			m.requests.Add(ctx, 1, metric.WithAttributes(method, route, attribute.Int("status", c.Response().Status)))
			m.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(method, route))
			return nil
		}
	}
}

func (m *serverMetrics) event(ctx context.Context, eventType, outcome string) {
	m.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", eventType),
		attribute.String("outcome", outcome),
	))
}

func (m *serverMetrics) sessionsOpened(ctx context.Context, n int) {
	m.open.Add(ctx, int64(n))
}

func (m *serverMetrics) sessionsClosed(ctx context.Context, n int) {
	m.open.Add(ctx, -int64(n))
}

func (m *serverMetrics) searched(ctx context.Context, hits int) {
	m.hits.Record(ctx, int64(hits))
}

// routeLabel returns the matched route pattern (/api/v1/sessions/:id/events),
// so session IDs never become label values.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
