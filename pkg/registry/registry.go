// SPDX-License-Identifier: Apache-2.0

// Package registry executes named agents under per-call deadlines and keeps
// per-agent daily statistics.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/errors"
	"github.com/jllopis/jarvis/pkg/resilience"
	"github.com/jllopis/jarvis/pkg/telemetry"
)

// Recorder receives one measurement per agent invocation.
type Recorder interface {
	RecordAgentRun(ctx context.Context, agent string, status core.Status, latency time.Duration)
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the wall clock used to decide the calendar day for
// RunsToday. Latency is always measured with the monotonic clock.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger for agent.run lines.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Registry) {
		r.recorder = rec
	}
}

// WithTracer sets the tracer for Registry.RunAgent spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Registry) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// Registry maps agent names to units and their statistics.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	now      func() time.Time
	logger   *slog.Logger
	tracer   trace.Tracer
	recorder Recorder
}

type entry struct {
	mu    sync.Mutex
	unit  core.Agent
	stats stats
}

type stats struct {
	lastRunMS   int64
	lastStatus  core.Status
	runsToday   int
	lastRunDate string
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  slog.Default(),
		tracer:  otel.Tracer("jarvis/registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds unit under its name. Registering a name again replaces the
// unit and keeps the existing statistics.
func (r *Registry) Register(unit core.Agent) error {
	if unit == nil {
		return errors.New(errors.CodeInvalidInput, "agent is nil", nil)
	}
	name := unit.Name()
	if name == "" {
		return errors.New(errors.CodeInvalidInput, "agent name is empty", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.mu.Lock()
		e.unit = unit
		e.mu.Unlock()
		return nil
	}
	r.entries[name] = &entry{unit: unit, stats: stats{lastStatus: core.StatusSkipped}}
	return nil
}

// MustRegister is Register for start-up wiring; it panics on error.
func (r *Registry) MustRegister(units ...core.Agent) {
	for _, u := range units {
		if err := r.Register(u); err != nil {
			panic(err)
		}
	}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	return r.lookup(name) != nil
}

func (r *Registry) lookup(name string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name]
}

// RunAgent invokes the named agent once under timeout, measured from just
// before the invocation. It never panics and never returns nil.
//
// An unknown name yields Error "agent_not_registered" with zero latency and
// no statistics change. Deadline expiry yields Error "timeout" and discards
// any data. A returned error or panic becomes the result's Error; data
// returned alongside an error is kept. LatencyMS is always the registry's
// own measurement.
func (r *Registry) RunAgent(ctx context.Context, name string, in core.ExecutionContext, timeout time.Duration) *core.Result {
	e := r.lookup(name)
	if e == nil {
		r.logger.WarnContext(ctx, "agent.run",
			slog.String("agent", name),
			slog.String("status", string(core.StatusError)),
			slog.String("error", string(errors.CodeAgentNotRegistered)),
		)
		return core.ErrorResult(name, string(errors.CodeAgentNotRegistered))
	}

	turnID, _ := core.TurnID(ctx)
	ctx, span := r.tracer.Start(ctx, "Registry.RunAgent",
		trace.WithAttributes(telemetry.AgentAttributes(name, turnID, core.Millis(timeout))...),
	)
	defer span.End()

	e.mu.Lock()
	unit := e.unit
	e.mu.Unlock()

	start := time.Now()
	res, err := resilience.WithTimeout(ctx, timeout, func(ctx context.Context) (*core.Result, error) {
		return unit.Run(ctx, in)
	})
	elapsed := time.Since(start)

	out := normalize(name, res, err)
	out.LatencyMS = core.Millis(elapsed)
	e.record(r.now(), out)

	span.SetAttributes(telemetry.AgentOutcomeAttributes(string(out.Status()), out.Error, out.LatencyMS)...)
	level := slog.LevelInfo
	if out.Failed() {
		span.SetStatus(codes.Error, out.Error)
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "agent.run",
		slog.String("agent", name),
		slog.String("status", string(out.Status())),
		slog.Int64("latency_ms", out.LatencyMS),
		slog.String("error", out.Error),
	)
	if r.recorder != nil {
		r.recorder.RecordAgentRun(ctx, name, out.Status(), elapsed)
	}
	return out
}

// normalize folds the three failure channels of an agent into one result.
func normalize(name string, res *core.Result, err error) *core.Result {
	switch {
	case err != nil && resilience.Expired(err):
		return core.ErrorResult(name, string(errors.CodeTimeout))
	case err != nil:
		out := core.ErrorResult(name, describe(err))
		if res != nil {
			out.Data = res.Data
		}
		return out
	case res == nil:
		return core.ErrorResult(name, "agent returned no result")
	default:
		return &core.Result{AgentName: name, Data: res.Data, Error: res.Error}
	}
}

// describe renders err without the "[code]" prefix of a bare *errors.Error.
func describe(err error) string {
	je, ok := err.(*errors.Error)
	if !ok || je.Message == "" {
		return err.Error()
	}
	if je.Err != nil {
		return je.Message + ": " + je.Err.Error()
	}
	return je.Message
}

func (e *entry) record(now time.Time, res *core.Result) {
	day := now.Format(time.DateOnly)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stats.lastRunDate != day {
		e.stats.runsToday = 0
		e.stats.lastRunDate = day
	}
	e.stats.runsToday++
	e.stats.lastRunMS = res.LatencyMS
	e.stats.lastStatus = res.Status()
}

// RunParallel runs every named agent concurrently under the same timeout and
// waits for all of them. Results are in input order.
func (r *Registry) RunParallel(ctx context.Context, names []string, in core.ExecutionContext, timeout time.Duration) []*core.Result {
	results := make([]*core.Result, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					results[i] = core.ErrorResult(name, fmt.Sprintf("panic: %v", rec))
				}
			}()
			results[i] = r.RunAgent(ctx, name, in, timeout)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Status returns a snapshot of every entry sorted by name. It does not
// mutate state: an entry last run on an earlier day reports zero runs today.
func (r *Registry) Status() []core.AgentStatus {
	today := r.now().Format(time.DateOnly)

	r.mu.RLock()
	out := make([]core.AgentStatus, 0, len(r.entries))
	for name, e := range r.entries {
		e.mu.Lock()
		s := core.AgentStatus{
			Name:       name,
			LastRunMS:  e.stats.lastRunMS,
			LastStatus: e.stats.lastStatus,
			RunsToday:  e.stats.runsToday,
		}
		if e.stats.lastRunDate != today {
			s.RunsToday = 0
		}
		e.mu.Unlock()
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Check implements core.HealthChecker over the latest run of each agent.
func (r *Registry) Check(context.Context) core.HealthResult {
	res := core.AgentHealth(r.Status())
	res.Component = "registry"
	return res
}
