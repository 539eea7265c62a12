// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/errors"
)

// Metrics records agent and turn measurements through OTel meters.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	agentRuns    metric.Int64Counter
	agentLatency metric.Int64Histogram
	turns        metric.Int64Counter
	turnLatency  metric.Int64Histogram
	fallbacks    metric.Int64Counter
	memoryWrites metric.Int64Counter
	errorCounter metric.Int64Counter
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter("jarvis/orchestrator"))
}

// NewMetricsWithMeter creates the instruments on meter.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.agentRuns, err = meter.Int64Counter(
		"jarvis.agent.runs",
		metric.WithDescription("Agent invocations by agent and status"),
	); err != nil {
		return nil, err
	}
	if m.agentLatency, err = meter.Int64Histogram(
		"jarvis.agent.latency",
		metric.WithDescription("Agent latency observed by the registry"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.turns, err = meter.Int64Counter(
		"jarvis.turns.total",
		metric.WithDescription("Completed turns by intent and model"),
	); err != nil {
		return nil, err
	}
	if m.turnLatency, err = meter.Int64Histogram(
		"jarvis.turn.latency",
		metric.WithDescription("End-to-end turn latency, excluding the detached memory write"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.fallbacks, err = meter.Int64Counter(
		"jarvis.chat.fallbacks",
		metric.WithDescription("Synthesis retries on the fast model"),
	); err != nil {
		return nil, err
	}
	if m.memoryWrites, err = meter.Int64Counter(
		"jarvis.memory.writes",
		metric.WithDescription("Detached memory writes by outcome"),
	); err != nil {
		return nil, err
	}
	if m.errorCounter, err = meter.Int64Counter(
		"jarvis.errors.total",
		metric.WithDescription("Errors by code and component"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordAgentRun records one registry invocation.
func (m *Metrics) RecordAgentRun(ctx context.Context, agent string, status core.Status, latency time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("status", string(status)),
	)
	m.agentRuns.Add(ctx, 1, attrs)
	m.agentLatency.Record(ctx, core.Millis(latency), attrs)
}

// RecordTurn records one completed turn.
func (m *Metrics) RecordTurn(ctx context.Context, intent, model string, latency time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("intent", intent),
		attribute.String("model", model),
	)
	m.turns.Add(ctx, 1, attrs)
	m.turnLatency.Record(ctx, core.Millis(latency), attrs)
}

// RecordFallback records a synthesis retry on the fast model.
func (m *Metrics) RecordFallback(ctx context.Context) {
	if m == nil {
		return
	}
	m.fallbacks.Add(ctx, 1)
}

// RecordMemoryWrite records the outcome of a detached memory write.
func (m *Metrics) RecordMemoryWrite(ctx context.Context, stored bool, failed bool) {
	if m == nil {
		return
	}
	outcome := "skipped"
	switch {
	case failed:
		outcome = "error"
	case stored:
		outcome = "stored"
	}
	m.memoryWrites.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordErrorMetric increments the error counter for err's code and component.
func (m *Metrics) RecordErrorMetric(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	je := errors.As(err)
	m.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", string(je.Code)),
			attribute.String("component", component),
			attribute.String("recoverable", je.RecoverableString()),
		),
	)
}
