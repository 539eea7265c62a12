package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jllopis/jarvis/pkg/core"
)

// StatusCollector exposes registry status snapshots as Prometheus gauges.
// Values are read at scrape time, so the registry remains the single source.
type StatusCollector struct {
	snapshot   func() []core.AgentStatus
	runsToday  *prometheus.Desc
	lastRunMS  *prometheus.Desc
	lastStatus *prometheus.Desc
}

// NewStatusCollector creates a collector over snapshot.
func NewStatusCollector(snapshot func() []core.AgentStatus) *StatusCollector {
	return &StatusCollector{
		snapshot: snapshot,
		runsToday: prometheus.NewDesc(
			"jarvis_agent_runs_today",
			"Invocations of the agent during the current calendar day",
			[]string{"agent"}, nil,
		),
		lastRunMS: prometheus.NewDesc(
			"jarvis_agent_last_run_milliseconds",
			"Latency of the agent's most recent invocation",
			[]string{"agent"}, nil,
		),
		lastStatus: prometheus.NewDesc(
			"jarvis_agent_last_status",
			"Set to 1 for the status of the agent's most recent invocation",
			[]string{"agent", "status"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *StatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.runsToday
	ch <- c.lastRunMS
	ch <- c.lastStatus
}

// Collect implements prometheus.Collector.
func (c *StatusCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.snapshot() {
		ch <- prometheus.MustNewConstMetric(c.runsToday, prometheus.GaugeValue, float64(s.RunsToday), s.Name)
		ch <- prometheus.MustNewConstMetric(c.lastRunMS, prometheus.GaugeValue, float64(s.LastRunMS), s.Name)
		ch <- prometheus.MustNewConstMetric(c.lastStatus, prometheus.GaugeValue, 1, s.Name, string(s.LastStatus))
	}
}

// TokenRecorder counts LLM token usage per tier and model.
// A nil *TokenRecorder is valid and records nothing.
type TokenRecorder struct {
	requests *prometheus.CounterVec
	tokens   *prometheus.CounterVec
}

// NewTokenRecorder registers the token counters on reg.
func NewTokenRecorder(reg prometheus.Registerer) *TokenRecorder {
	factory := promauto.With(reg)
	return &TokenRecorder{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jarvis_llm_requests_total",
				Help: "LLM requests by agent, tier and status",
			},
			[]string{"agent", "tier", "status"},
		),
		tokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jarvis_llm_tokens_total",
				Help: "LLM tokens by agent, tier and direction",
			},
			[]string{"agent", "tier", "type"},
		),
	}
}

// ObserveLLM records one LLM call.
func (r *TokenRecorder) ObserveLLM(agent, tier string, promptTokens, completionTokens int, err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.requests.WithLabelValues(agent, tier, status).Inc()
	if promptTokens > 0 {
		r.tokens.WithLabelValues(agent, tier, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		r.tokens.WithLabelValues(agent, tier, "completion").Add(float64(completionTokens))
	}
}

// NewPrometheusRegistry builds the registry served on /metrics: the status
// collector, the token recorder and the Go runtime collectors.
func NewPrometheusRegistry(snapshot func() []core.AgentStatus) (*prometheus.Registry, *TokenRecorder) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewStatusCollector(snapshot),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, NewTokenRecorder(reg)
}
