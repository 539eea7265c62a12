package orchestrator_test

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/jarvis/pkg/agents"
	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/errors"
	"github.com/jllopis/jarvis/pkg/llm"
	"github.com/jllopis/jarvis/pkg/orchestrator"
	"github.com/jllopis/jarvis/pkg/registry"
	jtest "github.com/jllopis/jarvis/pkg/testing"
	"github.com/jllopis/jarvis/pkg/tracestore"
)

var discard = slog.New(slog.DiscardHandler)

const weatherLine = "Weather context for Lisbon: It feels cool with light rain. Umbrella advised."

type fakeRecorder struct {
	mu        sync.Mutex
	turns     []string
	fallbacks int
	writes    []bool
}

func (r *fakeRecorder) RecordTurn(_ context.Context, intent, model string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, intent+"/"+model)
}

func (r *fakeRecorder) RecordFallback(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks++
}

func (r *fakeRecorder) RecordMemoryWrite(_ context.Context, stored bool, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, stored)
}

type pipeline struct {
	stubs    map[string]*jtest.StubAgent
	orch     *orchestrator.Orchestrator
	recorder *fakeRecorder
	traces   *tracestore.MemoryStore
}

func classification(intent, complexity, model string, tools ...string) map[string]any {
	return map[string]any{
		"intent":          intent,
		"needs_tools":     append([]string{}, tools...),
		"complexity":      complexity,
		"entities":        []string{"Lisbon"},
		"suggested_model": model,
	}
}

// echoChat replies with the tier it was asked for and streams the reply.
func echoChat(ctx context.Context, in core.ExecutionContext) (*core.Result, error) {
	reply := "reply from " + in.String(core.KeyModel)
	if sink := in.Sink(); sink != nil {
		if err := sink(ctx, reply); err != nil {
			return nil, err
		}
	}
	return &core.Result{Data: map[string]any{"full_response": reply}}, nil
}

func testConfig() orchestrator.Config {
	return orchestrator.Config{Timeouts: orchestrator.Timeouts{
		Default:   500 * time.Millisecond,
		Preflight: 200 * time.Millisecond,
		Tools:     200 * time.Millisecond,
		Summary:   200 * time.Millisecond,
	}}
}

// newPipeline registers stub agents around the real summarizer. Extra
// options are appended after the defaults.
func newPipeline(t *testing.T, classified map[string]any, opts ...orchestrator.Option) *pipeline {
	t.Helper()
	stubs := map[string]*jtest.StubAgent{
		core.AgentMemory:  jtest.NewStubAgent(core.AgentMemory).Returns(map[string]any{"formatted": "User memory context:\n- Location: Lisbon"}),
		core.AgentContext: jtest.NewStubAgent(core.AgentContext).Returns(classified),
		core.AgentSearch:  jtest.NewStubAgent(core.AgentSearch).Returns(map[string]any{"formatted": "Web search context:\n- a: b (u)"}),
		core.AgentWeather: jtest.NewStubAgent(core.AgentWeather).Returns(map[string]any{
			"city": "Lisbon", "summary": "It feels cool with light rain.", "recommendation": "Umbrella advised.",
		}),
		core.AgentChat:         jtest.NewStubAgent(core.AgentChat).Does(echoChat),
		core.AgentMemoryWriter: jtest.NewStubAgent(core.AgentMemoryWriter).Returns(map[string]any{"stored": true}),
	}

	reg := registry.New(registry.WithLogger(discard))
	for _, s := range stubs {
		reg.MustRegister(s)
	}
	summaries := &llm.MockProvider{Response: "Summary so far: earlier small talk."}
	reg.MustRegister(agents.NewSummarizer(llm.Tiers{Fast: llm.Model{Provider: summaries, Name: "fast"}}, agents.WithLogger(discard)))

	p := &pipeline{stubs: stubs, recorder: &fakeRecorder{}, traces: tracestore.NewMemoryStore(0)}
	all := append([]orchestrator.Option{
		orchestrator.WithLogger(discard),
		orchestrator.WithConfig(testConfig()),
		orchestrator.WithRecorder(p.recorder),
		orchestrator.WithTraceStore(p.traces),
	}, opts...)
	p.orch = orchestrator.New(reg, all...)
	t.Cleanup(func() { _ = p.orch.Wait(context.Background()) })
	return p
}

func messages(n int) []core.Message {
	out := make([]core.Message, n)
	for i := range out {
		role := core.RoleUser
		if i%2 == 1 {
			role = core.RoleAssistant
		}
		out[i] = core.Message{Role: role, Content: fmt.Sprintf("message %d", i)}
	}
	return out
}

func TestGreetingForcesFastModelAndSkipsTools(t *testing.T) {
	p := newPipeline(t, classification(core.IntentGreeting, "complex", core.ModelSmart))

	scenario := jtest.NewScenario("greeting").
		WithMessage("hi").
		ExpectNoError().
		ExpectIntent(core.IntentGreeting).
		ExpectModel(core.ModelFast).
		ExpectSkipped(core.AgentSearch, core.AgentWeather, core.AgentSummarizer).
		ExpectStatus(core.AgentChat, core.StatusOK).
		ExpectTraceOrder(core.AgentMemory, core.AgentContext, core.AgentSearch, core.AgentWeather, core.AgentSummarizer, core.AgentChat).
		ExpectResponse(jtest.Equals("reply from fast")).
		ExpectStreamed(jtest.Equals("reply from fast"))

	result := scenario.Run(t, p.orch)
	result.Assert(t, scenario)

	assert.Zero(t, p.stubs[core.AgentSearch].Calls())
	assert.Zero(t, p.stubs[core.AgentWeather].Calls())
}

func TestModelPolicy(t *testing.T) {
	cases := []struct {
		name       string
		intent     string
		complexity string
		suggested  string
		want       string
	}{
		{"complex question keeps smart", core.IntentQuestionReasoning, "complex", core.ModelSmart, core.ModelSmart},
		{"provider name maps to smart", core.IntentQuestionReasoning, "complex", "gemini", core.ModelSmart},
		{"simple forces fast", core.IntentQuestionReasoning, "simple", core.ModelSmart, core.ModelFast},
		{"casual chat forces fast", core.IntentCasualChat, "complex", core.ModelSmart, core.ModelFast},
		{"fast stays fast", core.IntentTaskRequest, "complex", "groq", core.ModelFast},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newPipeline(t, classification(tc.intent, tc.complexity, tc.suggested))
			res, err := p.orch.Process(context.Background(), orchestrator.Turn{UserMessage: "question"})
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Model)
			assert.Equal(t, "reply from "+tc.want, res.Response)
		})
	}
}

func TestToolSelection(t *testing.T) {
	cases := []struct {
		name        string
		classified  map[string]any
		wantSearch  bool
		wantWeather bool
	}{
		{"search by intent", classification(core.IntentSearchNeeded, "simple", core.ModelFast), true, false},
		{"weather by intent", classification(core.IntentWeatherQuery, "simple", core.ModelFast), false, true},
		{"weather by tool", classification(core.IntentQuestionFactual, "simple", core.ModelFast, core.ToolWeather), false, true},
		{"both tools", classification(core.IntentQuestionFactual, "simple", core.ModelFast, core.ToolWebSearch, core.ToolWeather), true, true},
		{"memory tool only", classification(core.IntentMemoryQuery, "simple", core.ModelFast, core.ToolMemory), false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newPipeline(t, tc.classified)
			res, err := p.orch.Process(context.Background(), orchestrator.Turn{UserMessage: "what now"})
			require.NoError(t, err)

			assert.Equal(t, []string{
				core.AgentMemory, core.AgentContext, core.AgentSearch, core.AgentWeather, core.AgentSummarizer, core.AgentChat,
			}, jtest.TraceAgents(res.Trace))

			chatIn := p.stubs[core.AgentChat].Inputs()[0]
			for agent, want := range map[string]bool{core.AgentSearch: tc.wantSearch, core.AgentWeather: tc.wantWeather} {
				if want {
					assert.Equal(t, 1, p.stubs[agent].Calls(), agent)
					jtest.AssertTraceStatus(t, res.Trace, agent, core.StatusOK)
				} else {
					assert.Zero(t, p.stubs[agent].Calls(), agent)
					jtest.AssertTraceStatus(t, res.Trace, agent, core.StatusSkipped)
				}
			}
			if tc.wantSearch {
				assert.Equal(t, "Web search context:\n- a: b (u)", chatIn.String(core.KeySearchContext))
			} else {
				assert.Empty(t, chatIn.String(core.KeySearchContext))
			}
			if tc.wantWeather {
				assert.Equal(t, weatherLine, chatIn.String(core.KeyWeatherContext))
				assert.Equal(t, []string{"Lisbon"}, p.stubs[core.AgentWeather].Inputs()[0].Strings(core.KeyEntities))
			} else {
				assert.Empty(t, chatIn.String(core.KeyWeatherContext))
			}
			assert.Equal(t, "User memory context:\n- Location: Lisbon", chatIn.String(core.KeyMemoryContext))
		})
	}
}

func TestSummarizationThreshold(t *testing.T) {
	cases := []struct {
		name    string
		history int
		want    int
		skipped bool
	}{
		{"empty", 0, 0, true},
		{"at threshold", 16, 16, true},
		{"one over", 17, 10, false},
		{"twenty", 20, 13, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newPipeline(t, classification(core.IntentFollowup, "simple", core.ModelFast))
			h := messages(tc.history)

			res, err := p.orch.Process(context.Background(), orchestrator.Turn{UserMessage: "and then?", History: h})
			require.NoError(t, err)
			require.Len(t, res.History, tc.want)

			if tc.skipped {
				jtest.AssertTraceStatus(t, res.Trace, core.AgentSummarizer, core.StatusSkipped)
				entry, _ := jtest.FindTrace(res.Trace, core.AgentSummarizer)
				assert.Zero(t, entry.DurationMS)
				assert.Equal(t, h, res.History)
				return
			}
			jtest.AssertTraceStatus(t, res.Trace, core.AgentSummarizer, core.StatusOK)
			assert.Equal(t, core.Message{Role: core.RoleSystem, Content: "Summary so far: earlier small talk."}, res.History[0])
			assert.Equal(t, h[8:], res.History[1:])

			chatIn := p.stubs[core.AgentChat].Inputs()[0]
			assert.Equal(t, res.History, chatIn.Messages(core.KeyConversationHistory))
		})
	}
}

func TestSummarizerFailureKeepsHistory(t *testing.T) {
	p := newPipeline(t, classification(core.IntentFollowup, "simple", core.ModelFast))
	broken := jtest.NewStubAgent(core.AgentSummarizer).Fails(stderrors.New("llm down"))
	h := messages(18)

	// Re-registering replaces the real summarizer.
	reg := rebuild(t, p)
	reg.MustRegister(broken)
	orch := orchestrator.New(reg, orchestrator.WithLogger(discard), orchestrator.WithConfig(testConfig()))

	res, err := orch.Process(context.Background(), orchestrator.Turn{UserMessage: "more", History: h})
	require.NoError(t, err)
	require.NoError(t, orch.Wait(context.Background()))
	assert.Equal(t, h, res.History)
	jtest.AssertTraceStatus(t, res.Trace, core.AgentSummarizer, core.StatusError)
	assert.Equal(t, "reply from fast", res.Response)
}

func TestFallbackToFastModel(t *testing.T) {
	p := newPipeline(t, classification(core.IntentQuestionReasoning, "complex", core.ModelSmart))
	p.stubs[core.AgentChat].Does(func(ctx context.Context, in core.ExecutionContext) (*core.Result, error) {
		if in.String(core.KeyModel) == core.ModelSmart {
			return nil, stderrors.New("smart model unavailable")
		}
		return echoChat(ctx, in)
	})

	scenario := jtest.NewScenario("fallback").
		WithMessage("explain entropy").
		ExpectNoError().
		ExpectModel(core.ModelSmart).
		ExpectStatus(core.AgentChat, core.StatusError).
		ExpectStatus(core.TraceChatFallback, core.StatusOK).
		ExpectResponse(jtest.Equals("reply from fast")).
		ExpectStreamed(jtest.Equals("reply from fast"))

	result := scenario.Run(t, p.orch)
	result.Assert(t, scenario)

	require.NotNil(t, result.Turn)
	assert.True(t, result.Turn.Fallback)
	agentsInTrace := jtest.TraceAgents(result.Turn.Trace)
	assert.Equal(t, []string{core.AgentChat, core.TraceChatFallback}, agentsInTrace[len(agentsInTrace)-2:])
	assert.Equal(t, 2, p.stubs[core.AgentChat].Calls())
	assert.Equal(t, 1, p.recorder.fallbacks)

	inputs := p.stubs[core.AgentChat].Inputs()
	assert.Equal(t, inputs[0].String(core.KeyMemoryContext), inputs[1].String(core.KeyMemoryContext))
	assert.Equal(t, inputs[0].String(core.KeyUserMessage), inputs[1].String(core.KeyUserMessage))
}

func TestFallbackFailureIsRecorded(t *testing.T) {
	p := newPipeline(t, classification(core.IntentQuestionReasoning, "complex", core.ModelSmart))
	p.stubs[core.AgentChat].Fails(stderrors.New("everything is down")).Returns(nil)

	res, err := p.orch.Process(context.Background(), orchestrator.Turn{UserMessage: "explain entropy"})
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Empty(t, res.Response)
	jtest.AssertTraceStatus(t, res.Trace, core.AgentChat, core.StatusError)
	jtest.AssertTraceStatus(t, res.Trace, core.TraceChatFallback, core.StatusError)
}

func TestNoFallbackOnFastModel(t *testing.T) {
	p := newPipeline(t, classification(core.IntentQuestionFactual, "simple", core.ModelSmart))
	p.stubs[core.AgentChat].Fails(stderrors.New("down")).Returns(map[string]any{"full_response": "partial"})

	res, err := p.orch.Process(context.Background(), orchestrator.Turn{UserMessage: "capital of France"})
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, 1, p.stubs[core.AgentChat].Calls())
	_, found := jtest.FindTrace(res.Trace, core.TraceChatFallback)
	assert.False(t, found)
	assert.Equal(t, "partial", res.Response)
	assert.Zero(t, p.recorder.fallbacks)
}

func TestStaleAttemptCannotStream(t *testing.T) {
	p := newPipeline(t, classification(core.IntentQuestionReasoning, "complex", core.ModelSmart))
	cfg := testConfig()
	cfg.Timeouts.Default = 50 * time.Millisecond
	staleErr := make(chan error, 1)

	p.stubs[core.AgentChat].Does(func(ctx context.Context, in core.ExecutionContext) (*core.Result, error) {
		if in.String(core.KeyModel) == core.ModelSmart {
			// Outlives its deadline and tries to stream afterwards.
			time.Sleep(120 * time.Millisecond)
			staleErr <- in.Sink()(context.Background(), "stale")
			return nil, nil
		}
		return echoChat(ctx, in)
	})
	orch := orchestrator.New(rebuild(t, p), orchestrator.WithLogger(discard), orchestrator.WithConfig(cfg))

	var (
		mu     sync.Mutex
		tokens []string
	)
	res, err := orch.Process(context.Background(), orchestrator.Turn{
		UserMessage: "explain entropy",
		Sink: func(_ context.Context, tok string) error {
			mu.Lock()
			defer mu.Unlock()
			tokens = append(tokens, tok)
			return nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, orch.Wait(context.Background()))
	jtest.AssertTraceStatus(t, res.Trace, core.AgentChat, core.StatusError)
	assert.Equal(t, "reply from fast", res.Response)

	select {
	case err := <-staleErr:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("stale attempt never finished")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"reply from fast"}, tokens)
}

func TestSlowSinkDoesNotOutliveChatDeadline(t *testing.T) {
	p := newPipeline(t, classification(core.IntentQuestionReasoning, "complex", core.ModelSmart))
	cfg := testConfig()
	cfg.Timeouts.Default = 50 * time.Millisecond
	p.stubs[core.AgentChat].Does(echoChat)
	orch := orchestrator.New(rebuild(t, p), orchestrator.WithLogger(discard), orchestrator.WithConfig(cfg))

	start := time.Now()
	res, err := orch.Process(context.Background(), orchestrator.Turn{
		UserMessage: "explain entropy",
		Sink: func(context.Context, string) error {
			time.Sleep(time.Second)
			return nil
		},
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 700*time.Millisecond)
	assert.True(t, res.Fallback)
	jtest.AssertTraceStatus(t, res.Trace, core.AgentChat, core.StatusError)
	jtest.AssertTraceStatus(t, res.Trace, core.TraceChatFallback, core.StatusError)
	assert.Empty(t, res.Response)
}

// rebuild registers the pipeline's stubs plus a real summarizer in a fresh
// registry.
func rebuild(t *testing.T, p *pipeline) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.WithLogger(discard))
	for _, s := range p.stubs {
		reg.MustRegister(s)
	}
	reg.MustRegister(agents.NewSummarizer(llm.Tiers{Fast: llm.Model{Provider: &llm.MockProvider{Response: "Summary so far: x"}}}))
	return reg
}

func TestPreflightDataUsedOnError(t *testing.T) {
	p := newPipeline(t, nil)
	p.stubs[core.AgentContext].
		Returns(classification(core.IntentWeatherQuery, "simple", core.ModelFast)).
		Fails(stderrors.New("classifier timed out upstream"))

	res, err := p.orch.Process(context.Background(), orchestrator.Turn{UserMessage: "weather?"})
	require.NoError(t, err)
	jtest.AssertTraceStatus(t, res.Trace, core.AgentContext, core.StatusError)
	assert.Equal(t, core.IntentWeatherQuery, res.Intent)
	assert.Equal(t, 1, p.stubs[core.AgentWeather].Calls())
}

func TestPreflightTimeoutDegrades(t *testing.T) {
	p := newPipeline(t, nil)
	p.stubs[core.AgentMemory].Sleeps(time.Second)

	start := time.Now()
	res, err := p.orch.Process(context.Background(), orchestrator.Turn{UserMessage: "anything"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)

	jtest.AssertTraceStatus(t, res.Trace, core.AgentMemory, core.StatusError)
	assert.Equal(t, core.IntentCasualChat, res.Intent)
	assert.Equal(t, core.ModelFast, res.Model)
	assert.Empty(t, p.stubs[core.AgentChat].Inputs()[0].String(core.KeyMemoryContext))
}

func TestMemoryWriteIsDetached(t *testing.T) {
	p := newPipeline(t, classification(core.IntentTaskRequest, "simple", core.ModelFast))
	release := make(chan struct{})
	writerCtxErr := make(chan error, 1)
	p.stubs[core.AgentMemoryWriter].Does(func(ctx context.Context, _ core.ExecutionContext) (*core.Result, error) {
		<-release
		writerCtxErr <- ctx.Err()
		return &core.Result{Data: map[string]any{"stored": true}}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	res, err := p.orch.Process(ctx, orchestrator.Turn{UserMessage: "remember I live in Lisbon", UserID: "u1"})
	require.NoError(t, err)
	cancel()

	short, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stop()
	assert.ErrorIs(t, p.orch.Wait(short), context.DeadlineExceeded)

	close(release)
	require.NoError(t, p.orch.Wait(context.Background()))
	assert.NoError(t, <-writerCtxErr)

	in := p.stubs[core.AgentMemoryWriter].Inputs()[0]
	assert.Equal(t, "remember I live in Lisbon", in.String(core.KeyUserMessage))
	assert.Equal(t, res.Response, in.String(core.KeyAssistantResponse))
	assert.Equal(t, "u1", in.String(core.KeyUserID))
	assert.Equal(t, []bool{true}, p.recorder.writes)
	_, found := jtest.FindTrace(res.Trace, core.AgentMemoryWriter)
	assert.False(t, found)
}

func TestDefaultUserID(t *testing.T) {
	p := newPipeline(t, classification(core.IntentTaskRequest, "simple", core.ModelFast))
	_, err := p.orch.Process(context.Background(), orchestrator.Turn{UserMessage: "hi"})
	require.NoError(t, err)
	require.NoError(t, p.orch.Wait(context.Background()))
	assert.Equal(t, "jarvis_user_1", p.stubs[core.AgentMemoryWriter].Inputs()[0].String(core.KeyUserID))
	assert.Equal(t, "jarvis_user_1", p.stubs[core.AgentMemory].Inputs()[0].String(core.KeyUserID))
}

func TestTurnIsRecordedAndSaved(t *testing.T) {
	p := newPipeline(t, classification(core.IntentWeatherQuery, "simple", core.ModelFast))

	ctx := core.WithTurnID(context.Background(), "turn-fixed")
	res, err := p.orch.Process(ctx, orchestrator.Turn{UserMessage: "weather in Lisbon", SessionID: "s1", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "turn-fixed", res.TurnID)

	rec, err := p.traces.Get(context.Background(), "turn-fixed")
	require.NoError(t, err)
	assert.Equal(t, "s1", rec.SessionID)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, core.IntentWeatherQuery, rec.Intent)
	assert.Equal(t, res.Trace, rec.Trace)
	assert.False(t, rec.FinishedAt.Before(rec.StartedAt))
	assert.Equal(t, []string{"weather_query/fast"}, p.recorder.turns)
}

func TestTurnIDIsGenerated(t *testing.T) {
	p := newPipeline(t, classification(core.IntentGreeting, "simple", core.ModelFast))
	a, err := p.orch.Process(context.Background(), orchestrator.Turn{UserMessage: "hi"})
	require.NoError(t, err)
	b, err := p.orch.Process(context.Background(), orchestrator.Turn{UserMessage: "hi"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.TurnID, "turn-"))
	assert.NotEqual(t, a.TurnID, b.TurnID)
}

func TestCallerHistoryIsNotModified(t *testing.T) {
	p := newPipeline(t, classification(core.IntentFollowup, "simple", core.ModelFast))
	h := messages(20)
	snapshot := append([]core.Message(nil), h...)

	res, err := p.orch.Process(context.Background(), orchestrator.Turn{UserMessage: "go on", History: h})
	require.NoError(t, err)
	assert.Equal(t, snapshot, h)

	res.History[0].Content = "mutated"
	assert.Equal(t, snapshot, h)
}

func TestMissingRunner(t *testing.T) {
	_, err := orchestrator.New(nil).Process(context.Background(), orchestrator.Turn{UserMessage: "hi"})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestMissingAgentsDegrade(t *testing.T) {
	orch := orchestrator.New(registry.New(registry.WithLogger(discard)), orchestrator.WithLogger(discard))
	res, err := orch.Process(context.Background(), orchestrator.Turn{UserMessage: "hi"})
	require.NoError(t, err)
	require.NoError(t, orch.Wait(context.Background()))

	jtest.AssertTraceStatus(t, res.Trace, core.AgentMemory, core.StatusError)
	jtest.AssertTraceStatus(t, res.Trace, core.AgentChat, core.StatusError)
	assert.Equal(t, core.IntentCasualChat, res.Intent)
	assert.Empty(t, res.Response)
}

func TestTraceIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	p := newPipeline(t, classification(core.IntentGreeting, "simple", core.ModelFast), orchestrator.WithLogger(logger))

	res, err := p.orch.Process(context.Background(), orchestrator.Turn{UserMessage: "hi"})
	require.NoError(t, err)
	require.NoError(t, p.orch.Wait(context.Background()))

	var traceLines int
	var summary map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		switch rec["msg"] {
		case "trace":
			traceLines++
		case "agent_trace":
			summary = rec
		}
	}
	assert.Equal(t, len(res.Trace), traceLines)
	require.NotNil(t, summary)
	assert.Equal(t, res.TurnID, summary["turn_id"])
	assert.Equal(t, core.IntentGreeting, summary["intent"])
	assert.Len(t, summary["trace"], len(res.Trace))
}

func TestConfigDefaults(t *testing.T) {
	cfg := orchestrator.New(nil, orchestrator.WithConfig(orchestrator.Config{HistoryThreshold: 4})).Config()
	assert.Equal(t, 4, cfg.HistoryThreshold)
	assert.Equal(t, 8, cfg.SummarizeCount)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Default)
	assert.Equal(t, "jarvis_user_1", cfg.UserID)
}
