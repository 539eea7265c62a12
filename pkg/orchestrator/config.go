package orchestrator

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Timeouts are the per-phase budgets. Each applies to every agent invoked in
// that phase, not to the phase as a whole.
type Timeouts struct {
	Default   time.Duration
	Preflight time.Duration
	Tools     time.Duration
	Summary   time.Duration
}

// Config controls the turn pipeline.
type Config struct {
	Timeouts Timeouts

	// HistoryThreshold is the history length above which the summarizer runs.
	HistoryThreshold int
	// SummarizeCount is how many of the oldest messages get folded into one
	// summary message.
	SummarizeCount int
	// UserID is used when a turn does not carry its own.
	UserID string
}

// DefaultConfig returns the stock pipeline settings.
func DefaultConfig() Config {
	return Config{
		Timeouts: Timeouts{
			Default:   10 * time.Second,
			Preflight: 2 * time.Second,
			Tools:     4 * time.Second,
			Summary:   5 * time.Second,
		},
		HistoryThreshold: 16,
		SummarizeCount:   8,
		UserID:           "jarvis_user_1",
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Timeouts.Default <= 0 {
		c.Timeouts.Default = def.Timeouts.Default
	}
	if c.Timeouts.Preflight <= 0 {
		c.Timeouts.Preflight = def.Timeouts.Preflight
	}
	if c.Timeouts.Tools <= 0 {
		c.Timeouts.Tools = def.Timeouts.Tools
	}
	if c.Timeouts.Summary <= 0 {
		c.Timeouts.Summary = def.Timeouts.Summary
	}
	if c.HistoryThreshold <= 0 {
		c.HistoryThreshold = def.HistoryThreshold
	}
	if c.SummarizeCount <= 0 {
		c.SummarizeCount = def.SummarizeCount
	}
	if c.UserID == "" {
		c.UserID = def.UserID
	}
	return c
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig replaces the pipeline settings. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg.withDefaults()
	}
}

// WithLogger sets the logger for trace lines.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTracer sets the tracer for Orchestrator.Process spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithRecorder sets the turn metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = rec
	}
}

// WithTraceStore sets where finished turns are recorded.
func WithTraceStore(store TraceSaver) Option {
	return func(o *Orchestrator) {
		o.traces = store
	}
}
