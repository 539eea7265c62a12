// SPDX-License-Identifier: Apache-2.0
package server

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/jllopis/jarvis/pkg/server"

// HTTPMetrics records request counts, durations and in-flight requests.
type HTTPMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	active   metric.Int64UpDownCounter
}

// NewHTTPMetrics creates the instruments on the global meter provider.
// Instruments that fail to register are skipped.
func NewHTTPMetrics(logger *slog.Logger) *HTTPMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	meter := otel.Meter(instrumentationName)
	m := &HTTPMetrics{}

	var err error
	m.requests, err = meter.Int64Counter(
		"jarvis.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("metrics.init", slog.String("instrument", "requests_total"), slog.String("error", err.Error()))
	}
	m.duration, err = meter.Float64Histogram(
		"jarvis.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration by method, route and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		logger.Warn("metrics.init", slog.String("instrument", "request_duration_seconds"), slog.String("error", err.Error()))
	}
	m.active, err = meter.Int64UpDownCounter(
		"jarvis.http.active_requests",
		metric.WithDescription("HTTP requests in flight, websocket sessions included."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("metrics.init", slog.String("instrument", "active_requests"), slog.String("error", err.Error()))
	}
	return m
}

// Middleware returns an echo middleware recording one measurement per request.
// The route pattern is used as the endpoint label, so path parameters do not
// multiply series.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.active != nil {
				m.active.Add(ctx, 1)
			}

			err := next(c)

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", c.Path()),
				attribute.Int("status", c.Response().Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.active != nil {
				m.active.Add(ctx, -1)
			}
			return err
		}
	}
}
