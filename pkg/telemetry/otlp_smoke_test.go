package telemetry

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/jarvis/pkg/core"
)

// TestOTLPSmoke exports one turn span with a nested agent span and the agent
// metrics to a live collector.
func TestOTLPSmoke(t *testing.T) {
	endpoint := os.Getenv("JARVIS_TELEMETRY_OTLP_ENDPOINT")
	if os.Getenv("JARVIS_OTLP_SMOKE_TEST") != "1" || endpoint == "" {
		t.Skip("set JARVIS_OTLP_SMOKE_TEST=1 and JARVIS_TELEMETRY_OTLP_ENDPOINT to run")
	}

	timeout := 5 * time.Second
	if raw := os.Getenv("JARVIS_TELEMETRY_OTLP_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		require.NoError(t, err)
		timeout = d
	}

	shutdown, err := InitWithConfig("jarvis-smoke", "dev", Config{
		Exporter:       "otlp",
		OTLPEndpoint:   endpoint,
		OTLPInsecure:   os.Getenv("JARVIS_TELEMETRY_OTLP_INSECURE") == "true",
		OTLPTimeout:    timeout,
		MetricInterval: time.Second,
	})
	require.NoError(t, err)

	metrics, err := NewMetrics()
	require.NoError(t, err)

	tracer := otel.Tracer("jarvis/smoke")
	ctx, turn := tracer.Start(context.Background(), "Orchestrator.Process",
		trace.WithAttributes(TurnAttributes("turn-smoke", core.IntentGreeting, core.ModelFast, 0)...))
	_, agent := tracer.Start(ctx, "Registry.RunAgent",
		trace.WithAttributes(AgentAttributes(core.AgentChat, "turn-smoke", 1000)...))
	agent.SetAttributes(AgentOutcomeAttributes(string(core.StatusOK), "", 12)...)
	agent.End()
	turn.End()

	metrics.RecordAgentRun(ctx, core.AgentChat, core.StatusOK, 12*time.Millisecond)
	metrics.RecordTurn(ctx, core.IntentGreeting, core.ModelFast, 40*time.Millisecond)

	time.Sleep(2 * time.Second)

	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	require.NoError(t, shutdown(sctx))
}
