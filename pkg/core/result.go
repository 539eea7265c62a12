package core

import "time"

// Status is the outcome recorded for one agent in a turn.
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// Result is produced exactly once per agent invocation.
// Error is empty iff the call succeeded within its deadline. Data may be
// non-nil alongside an error when a unit returns partial or default data.
type Result struct {
	AgentName string         `json:"agent_name"`
	Data      map[string]any `json:"data"`
	Error     string         `json:"error,omitempty"`
	LatencyMS int64          `json:"latency_ms"`
}

// Failed reports whether the result carries an error.
func (r *Result) Failed() bool {
	return r != nil && r.Error != ""
}

// Status maps the result onto a trace status.
func (r *Result) Status() Status {
	if r.Failed() {
		return StatusError
	}
	return StatusOK
}

// String returns the string stored under key in Data, or "".
func (r *Result) String(key string) string {
	if r == nil || r.Data == nil {
		return ""
	}
	s, _ := r.Data[key].(string)
	return s
}

// ErrorResult builds a failed result with no data.
func ErrorResult(agent, errText string) *Result {
	return &Result{AgentName: agent, Error: errText}
}

// TraceEntry records the fate of one phase-agent pair in a turn.
type TraceEntry struct {
	Agent      string `json:"agent"`
	DurationMS int64  `json:"duration_ms"`
	Status     Status `json:"status"`
	Skipped    bool   `json:"skipped"`
}

// TraceFromResult builds the entry for an agent that was invoked.
func TraceFromResult(agent string, r *Result) TraceEntry {
	if r == nil {
		return TraceEntry{Agent: agent, Status: StatusError}
	}
	return TraceEntry{Agent: agent, DurationMS: r.LatencyMS, Status: r.Status()}
}

// SkippedTrace builds the entry for an agent that was never invoked.
func SkippedTrace(agent string) TraceEntry {
	return TraceEntry{Agent: agent, Status: StatusSkipped, Skipped: true}
}

// AgentStatus is a read-only snapshot of one registry entry.
type AgentStatus struct {
	Name       string `json:"name" yaml:"name"`
	LastRunMS  int64  `json:"last_run_ms" yaml:"last_run_ms"`
	LastStatus Status `json:"last_status" yaml:"last_status"`
	RunsToday  int    `json:"runs_today" yaml:"runs_today"`
}

// Millis converts a duration to whole milliseconds, never negative.
func Millis(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}
