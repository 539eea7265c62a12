// SPDX-License-Identifier: Apache-2.0

// Package orchestrator turns one user message into one response by running
// the registered agents in sequential phases: preflight, tools,
// summarization, synthesis and a detached memory write.
package orchestrator

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/errors"
	"github.com/jllopis/jarvis/pkg/telemetry"
	"github.com/jllopis/jarvis/pkg/tracestore"
)

// Runner executes agents by name. *registry.Registry implements it.
type Runner interface {
	RunAgent(ctx context.Context, name string, in core.ExecutionContext, timeout time.Duration) *core.Result
	RunParallel(ctx context.Context, names []string, in core.ExecutionContext, timeout time.Duration) []*core.Result
}

// Recorder receives turn level measurements.
type Recorder interface {
	RecordTurn(ctx context.Context, intent, model string, latency time.Duration)
	RecordFallback(ctx context.Context)
	RecordMemoryWrite(ctx context.Context, stored bool, failed bool)
}

// TraceSaver records finished turns.
type TraceSaver interface {
	Save(ctx context.Context, rec tracestore.Record) error
}

// Turn is the input of one conversational exchange.
type Turn struct {
	UserMessage string
	// History is copied on entry; the caller's slice is never modified.
	History []core.Message
	// Sink receives synthesis tokens when set.
	Sink      core.TokenSink
	UserID    string
	SessionID string
}

// TurnResult is the outcome of Process.
type TurnResult struct {
	TurnID   string            `json:"turn_id"`
	Response string            `json:"response"`
	Trace    []core.TraceEntry `json:"trace"`
	// History is the conversation as it should be carried into the next
	// turn, shortened when the summarizer ran.
	History  []core.Message `json:"history"`
	Intent   string         `json:"intent"`
	Model    string         `json:"model"`
	Fallback bool           `json:"fallback"`
}

// Orchestrator runs turns against a Runner. It is safe for concurrent use.
type Orchestrator struct {
	runner   Runner
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
	recorder Recorder
	traces   TraceSaver

	writes sync.WaitGroup
}

// New creates an orchestrator over runner.
func New(runner Runner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runner: runner,
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		tracer: otel.Tracer("jarvis/orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the active pipeline settings.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// preflight is what the orchestrator takes from the memory and context agents.
type preflight struct {
	memoryContext string
	intent        string
	needsTools    []string
	entities      []string
	model         string
}

// Process runs one turn. Agent failures never abort the turn: the trace
// records them and later phases fall back to neutral values. The only error
// returned is for an orchestrator built without a runner.
func (o *Orchestrator) Process(ctx context.Context, turn Turn) (*TurnResult, error) {
	if o == nil || o.runner == nil {
		return nil, errors.New(errors.CodeInvalidInput, "orchestrator has no agent runner", nil)
	}

	ctx, turnID := core.EnsureTurnID(ctx)
	ctx = core.WithSessionID(ctx, turn.SessionID)
	ctx, span := o.tracer.Start(ctx, "Orchestrator.Process")
	defer span.End()

	started := time.Now()
	userID := turn.UserID
	if userID == "" {
		userID = o.cfg.UserID
	}
	history := core.CloneMessages(turn.History)
	steps := make([]core.TraceEntry, 0, 8)

	// Phase 1: preflight.
	pre, entries := o.runPreflight(ctx, turn.UserMessage, history, userID)
	steps = append(steps, entries...)

	// Phase 2: tools.
	searchCtx, weatherCtx, entries := o.runTools(ctx, turn.UserMessage, pre)
	steps = append(steps, entries...)

	// Phase 3: summarization.
	history, entry := o.summarize(ctx, history)
	steps = append(steps, entry)

	// Phase 4: synthesis.
	chatIn := core.NewExecutionContext(map[string]any{
		core.KeyUserMessage:         turn.UserMessage,
		core.KeyConversationHistory: core.CloneMessages(history),
		core.KeyModel:               pre.model,
		core.KeyMemoryContext:       pre.memoryContext,
		core.KeySearchContext:       searchCtx,
		core.KeyWeatherContext:      weatherCtx,
		core.KeyIntent:              pre.intent,
	})
	chat := o.synthesize(ctx, chatIn, turn.Sink)
	if chat == nil {
		chat = core.ErrorResult(core.AgentChat, "agent returned no result")
	}
	steps = append(steps, core.TraceFromResult(core.AgentChat, chat))

	fallback := false
	if chat.Failed() && pre.model == core.ModelSmart {
		fallback = true
		if o.recorder != nil {
			o.recorder.RecordFallback(ctx)
		}
		retry := o.synthesize(ctx, chatIn.With(core.KeyModel, core.ModelFast), turn.Sink)
		steps = append(steps, core.TraceFromResult(core.TraceChatFallback, retry))
		if retry != nil && len(retry.Data) > 0 {
			chat = retry
		}
	}
	response := chat.String("full_response")

	// Phase 5: memory write, detached from the turn.
	o.writeMemory(ctx, core.NewExecutionContext(map[string]any{
		core.KeyUserMessage:         turn.UserMessage,
		core.KeyAssistantResponse:   response,
		core.KeyConversationHistory: core.CloneMessages(history),
		core.KeyUserID:              userID,
	}))

	latency := time.Since(started)
	o.logTrace(ctx, turnID, steps, pre, latency)
	span.SetAttributes(telemetry.TurnAttributes(turnID, pre.intent, pre.model, len(history))...)
	if o.recorder != nil {
		o.recorder.RecordTurn(ctx, pre.intent, pre.model, latency)
	}
	o.saveTrace(ctx, tracestore.Record{
		TurnID:     turnID,
		SessionID:  turn.SessionID,
		UserID:     userID,
		Intent:     pre.intent,
		Model:      pre.model,
		Fallback:   fallback,
		Trace:      steps,
		StartedAt:  started,
		FinishedAt: started.Add(latency),
	})

	return &TurnResult{
		TurnID:   turnID,
		Response: response,
		Trace:    steps,
		History:  history,
		Intent:   pre.intent,
		Model:    pre.model,
		Fallback: fallback,
	}, nil
}

// runPreflight runs memory and context together and merges their data. Data
// is used even from a failed agent, which lets the classifier hand back its
// defaults.
func (o *Orchestrator) runPreflight(ctx context.Context, msg string, history []core.Message, userID string) (preflight, []core.TraceEntry) {
	names := []string{core.AgentMemory, core.AgentContext}
	in := core.NewExecutionContext(map[string]any{
		core.KeyUserMessage:         msg,
		core.KeyConversationHistory: core.CloneMessages(history),
		core.KeyUserID:              userID,
	})
	results := o.runner.RunParallel(ctx, names, in, o.cfg.Timeouts.Preflight)

	entries := make([]core.TraceEntry, len(names))
	for i, name := range names {
		entries[i] = core.TraceFromResult(name, results[i])
	}

	memory, classified := results[0], results[1]
	pre := preflight{
		memoryContext: memory.String("formatted"),
		intent:        classified.String("intent"),
		model:         core.NormalizeModel(classified.String("suggested_model")),
	}
	if pre.intent == "" {
		pre.intent = core.IntentCasualChat
	}
	if classified != nil && classified.Data != nil {
		pre.needsTools = core.AsStrings(classified.Data["needs_tools"])
		pre.entities = core.AsStrings(classified.Data["entities"])
	}
	if pre.intent == core.IntentGreeting || pre.intent == core.IntentCasualChat || classified.String("complexity") == "simple" {
		pre.model = core.ModelFast
	}
	return pre, entries
}

// runTools invokes the selected tool agents in one parallel batch and returns
// the formatted search and weather contexts. The trace always lists search
// before weather; an unselected tool is recorded as skipped.
func (o *Orchestrator) runTools(ctx context.Context, msg string, pre preflight) (string, string, []core.TraceEntry) {
	selected := map[string]bool{
		core.AgentSearch:  slices.Contains(pre.needsTools, core.ToolWebSearch) || pre.intent == core.IntentSearchNeeded,
		core.AgentWeather: slices.Contains(pre.needsTools, core.ToolWeather) || pre.intent == core.IntentWeatherQuery,
	}
	order := []string{core.AgentSearch, core.AgentWeather}

	var names []string
	for _, name := range order {
		if selected[name] {
			names = append(names, name)
		}
	}

	byName := make(map[string]*core.Result, len(names))
	if len(names) > 0 {
		in := core.NewExecutionContext(map[string]any{
			core.KeyUserMessage:   msg,
			core.KeyEntities:      append([]string(nil), pre.entities...),
			core.KeyMemoryContext: pre.memoryContext,
		})
		for i, res := range o.runner.RunParallel(ctx, names, in, o.cfg.Timeouts.Tools) {
			byName[names[i]] = res
		}
	}

	entries := make([]core.TraceEntry, 0, len(order))
	for _, name := range order {
		if res, ok := byName[name]; ok {
			entries = append(entries, core.TraceFromResult(name, res))
		} else {
			entries = append(entries, core.SkippedTrace(name))
		}
	}

	return byName[core.AgentSearch].String("formatted"), weatherContext(byName[core.AgentWeather]), entries
}

// weatherContext renders the weather agent's data for the chat prompt. It is
// empty unless the agent produced a summary.
func weatherContext(res *core.Result) string {
	summary := res.String("summary")
	if summary == "" {
		return ""
	}
	return "Weather context for " + res.String("city") + ": " + summary + " " + res.String("recommendation")
}

// summarize compresses history when it exceeds the threshold. The original
// history is kept when the summarizer fails without a replacement.
func (o *Orchestrator) summarize(ctx context.Context, history []core.Message) ([]core.Message, core.TraceEntry) {
	if len(history) <= o.cfg.HistoryThreshold {
		return history, core.SkippedTrace(core.AgentSummarizer)
	}

	in := core.NewExecutionContext(map[string]any{
		core.KeyConversationHistory: core.CloneMessages(history),
		core.KeyMaxTurns:            o.cfg.HistoryThreshold,
		core.KeySummarizeCount:      o.cfg.SummarizeCount,
	})
	res := o.runner.RunAgent(ctx, core.AgentSummarizer, in, o.cfg.Timeouts.Summary)
	entry := core.TraceFromResult(core.AgentSummarizer, res)

	if res != nil && res.Data != nil {
		if compressed, ok := res.Data["new_history"].([]core.Message); ok {
			return core.CloneMessages(compressed), entry
		}
	}
	return history, entry
}

// synthesize runs one chat attempt. The caller's sink is wrapped in a gate
// that is closed as soon as the attempt returns.
func (o *Orchestrator) synthesize(ctx context.Context, in core.ExecutionContext, sink core.TokenSink) *core.Result {
	if sink == nil {
		return o.runner.RunAgent(ctx, core.AgentChat, in, o.cfg.Timeouts.Default)
	}
	gate := newSinkGate(sink)
	defer gate.close()
	return o.runner.RunAgent(ctx, core.AgentChat, in.With(core.KeyStreamSink, core.TokenSink(gate.send)), o.cfg.Timeouts.Default)
}

// writeMemory starts the memory writer without waiting for it. The run is
// detached from the turn's cancellation; its outcome is only logged.
func (o *Orchestrator) writeMemory(ctx context.Context, in core.ExecutionContext) {
	ctx = context.WithoutCancel(ctx)
	o.writes.Add(1)
	go func() {
		defer o.writes.Done()
		res := o.runner.RunAgent(ctx, core.AgentMemoryWriter, in, o.cfg.Timeouts.Default)
		if res == nil {
			res = core.ErrorResult(core.AgentMemoryWriter, "agent returned no result")
		}
		stored, _ := res.Data["stored"].(bool)
		if o.recorder != nil {
			o.recorder.RecordMemoryWrite(ctx, stored, res.Failed())
		}
		if res.Failed() {
			o.logger.WarnContext(ctx, "memory.write", slog.String("error", res.Error))
			return
		}
		o.logger.DebugContext(ctx, "memory.write", slog.Bool("stored", stored))
	}()
}

// Wait blocks until in-flight memory writes finish or ctx is done. It is meant
// for shutdown; turns never wait on it.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.writes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) logTrace(ctx context.Context, turnID string, steps []core.TraceEntry, pre preflight, latency time.Duration) {
	for _, item := range steps {
		o.logger.InfoContext(ctx, "trace",
			slog.String("agent", item.Agent),
			slog.String("status", string(item.Status)),
			slog.Int64("duration_ms", item.DurationMS),
		)
	}
	o.logger.InfoContext(ctx, "agent_trace",
		slog.String("turn_id", turnID),
		slog.Any("trace", steps),
		slog.String("intent", pre.intent),
		slog.String("model", pre.model),
		slog.Int64("latency_ms", core.Millis(latency)),
	)
}

func (o *Orchestrator) saveTrace(ctx context.Context, rec tracestore.Record) {
	if o.traces == nil {
		return
	}
	if err := o.traces.Save(ctx, rec); err != nil {
		o.logger.WarnContext(ctx, "trace.save", slog.String("turn_id", rec.TurnID), slog.String("error", err.Error()))
	}
}
