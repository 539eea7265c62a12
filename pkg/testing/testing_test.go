// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/llm"
	"github.com/jllopis/jarvis/pkg/orchestrator"
	"github.com/jllopis/jarvis/pkg/websearch"
)

type fixedRunner struct {
	res   *orchestrator.TurnResult
	err   error
	delay time.Duration
}

func (f fixedRunner) Process(ctx context.Context, turn orchestrator.Turn) (*orchestrator.TurnResult, error) {
	if turn.Sink != nil && f.res != nil {
		_ = turn.Sink(ctx, f.res.Response)
	}
	time.Sleep(f.delay)
	return f.res, f.err
}

func TestScenarioExpectations(t *testing.T) {
	runner := fixedRunner{res: &orchestrator.TurnResult{
		Response: "Hello there",
		Intent:   core.IntentGreeting,
		Model:    core.ModelFast,
		History:  []core.Message{{Role: core.RoleUser, Content: "hi"}},
		Trace: []core.TraceEntry{
			{Agent: core.AgentMemory, Status: core.StatusOK, DurationMS: 3},
			core.SkippedTrace(core.AgentSearch),
		},
	}}

	scenario := NewScenario("greeting").
		WithMessage("hi").
		ExpectNoError().
		ExpectResponse(HasPrefix("Hello")).
		ExpectStreamed(Equals("Hello there")).
		ExpectIntent(core.IntentGreeting).
		ExpectModel(core.ModelFast).
		ExpectStatus(core.AgentMemory, core.StatusOK).
		ExpectSkipped(core.AgentSearch).
		ExpectTraceOrder(core.AgentMemory, core.AgentSearch).
		ExpectHistoryLen(1).
		ExpectMaxDuration(time.Second)

	result := scenario.Run(t, runner)
	result.Assert(t, scenario)
}

func TestExpectationFailuresAreReported(t *testing.T) {
	r := &ScenarioResult{Turn: &orchestrator.TurnResult{Response: "x", Trace: []core.TraceEntry{{Agent: "chat", Status: core.StatusError}}}}

	assert.Error(t, (&responseExpectation{matcher: Regex(`^y`)}).Check(r))
	assert.Error(t, (&statusExpectation{agent: "chat", status: core.StatusOK}).Check(r))
	assert.Error(t, (&skippedExpectation{agent: "chat"}).Check(r))
	assert.Error(t, (&statusExpectation{agent: "search", status: core.StatusOK}).Check(r))
	assert.Error(t, (&historyExpectation{n: 2}).Check(r))
	assert.Error(t, (&noErrorExpectation{}).Check(&ScenarioResult{Error: errors.New("boom")}))
	assert.Error(t, (&errorExpectation{matcher: Contains("x")}).Check(&ScenarioResult{}))
	assert.ErrorIs(t, (&fieldExpectation{field: "intent", get: func(r *orchestrator.TurnResult) string { return r.Intent }}).Check(&ScenarioResult{}), errNoTurn)
}

func TestScenarioProviderScript(t *testing.T) {
	p := NewScenarioProvider().
		AddResponse("first").
		AddScriptedResponse(ScriptedResponse{
			Content:   "json",
			Condition: func(req llm.ChatRequest) bool { return req.JSON },
		}).
		AddErrorResponse(errors.New("down"))

	resp, err := p.Chat(context.Background(), llm.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)

	// Non-matching conditional responses are skipped.
	_, err = p.Chat(context.Background(), llm.ChatRequest{})
	assert.EqualError(t, err, "down")

	_, err = p.Chat(context.Background(), llm.ChatRequest{})
	assert.Error(t, err)
	assert.Equal(t, 3, p.CallCount())

	p.Reset()
	assert.Equal(t, 0, p.CallCount())
	assert.Nil(t, p.LastRequest())
}

func TestScenarioProviderChatFunc(t *testing.T) {
	p := NewScenarioProvider().
		AddResponse("never used").
		WithChatFunc(func(req llm.ChatRequest) (*llm.ChatResponse, error) {
			return &llm.ChatResponse{Content: "model " + req.Model}, nil
		})

	resp, err := p.Chat(context.Background(), llm.ChatRequest{Model: "fast"})
	require.NoError(t, err)
	assert.Equal(t, "model fast", resp.Content)
	assert.Equal(t, 1, p.CallCount())
}

func TestScenarioProviderStream(t *testing.T) {
	p := NewScenarioProvider().
		AddScriptedResponse(ScriptedResponse{Tokens: []string{"a", "b"}, StreamError: errors.New("cut")})

	var got []string
	resp, err := llm.ChatStreamed(context.Background(), p, llm.ChatRequest{Model: "m"}, func(tok string) error {
		got = append(got, tok)
		return nil
	})
	assert.EqualError(t, err, "cut")
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, "ab", resp.Content)
	assert.Equal(t, "m", p.LastRequest().Model)
}

func TestStubAgent(t *testing.T) {
	a := NewStubAgent("search").Returns(map[string]any{"formatted": "x"}).Fails(errors.New("partial"))
	res, err := a.Run(context.Background(), core.NewExecutionContext(map[string]any{core.KeyUserMessage: "q"}))
	assert.EqualError(t, err, "partial")
	assert.Equal(t, "x", res.String("formatted"))
	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, "q", a.Inputs()[0].String(core.KeyUserMessage))

	slow := NewStubAgent("slow").Sleeps(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = slow.Run(ctx, core.ExecutionContext{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStubAgentLastConfigurationWins(t *testing.T) {
	a := NewStubAgent("chat").Does(func(context.Context, core.ExecutionContext) (*core.Result, error) {
		return &core.Result{Data: map[string]any{"full_response": "from fn"}}, nil
	})
	a.Fails(errors.New("down")).Returns(map[string]any{"full_response": "partial"})

	res, err := a.Run(context.Background(), core.ExecutionContext{})
	assert.EqualError(t, err, "down")
	assert.Equal(t, "partial", res.String("full_response"))
}

func TestFakeSearcher(t *testing.T) {
	f := &FakeSearcher{
		Results: map[string][]websearch.Result{"go": {{Title: "a"}, {Title: "b"}}},
		Errors:  map[string]error{"bad": errors.New("fail")},
	}
	resp, err := f.Search(context.Background(), "go", 1)
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)

	_, err = f.Search(context.Background(), "bad", 5)
	assert.Error(t, err)
	assert.ElementsMatch(t, []string{"go", "bad"}, f.Queries())
}
