// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/llm"
	"github.com/jllopis/jarvis/pkg/weather"
	"github.com/jllopis/jarvis/pkg/websearch"
)

// ScenarioProvider is a scripted llm.Provider and llm.StreamingProvider.
// It supports conditional responses, per-response errors and delays, and
// request capture.
type ScenarioProvider struct {
	mu           sync.Mutex
	responses    []ScriptedResponse
	currentIndex int
	requests     []llm.ChatRequest
	defaultError error
	onChat       func(req llm.ChatRequest) (*llm.ChatResponse, error)
}

// ScriptedResponse defines a response for the scenario provider.
type ScriptedResponse struct {
	Content string
	// Tokens are streamed in order; when empty Content is sent as one token.
	Tokens []string
	Error  error
	// StreamError fails the stream after Tokens were delivered.
	StreamError error
	Delay       time.Duration
	Usage       llm.Usage
	// Condition allows conditional responses based on request
	Condition func(req llm.ChatRequest) bool
}

// NewScenarioProvider creates a new scenario provider.
func NewScenarioProvider() *ScenarioProvider {
	return &ScenarioProvider{}
}

// AddResponse queues a response to be returned.
func (p *ScenarioProvider) AddResponse(content string) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{Content: content})
}

// AddErrorResponse queues an error response.
func (p *ScenarioProvider) AddErrorResponse(err error) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{Error: err})
}

// AddScriptedResponse adds a fully configured response.
func (p *ScenarioProvider) AddScriptedResponse(resp ScriptedResponse) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, resp)
	return p
}

// WithDefaultError sets the error to return when no responses are queued.
func (p *ScenarioProvider) WithDefaultError(err error) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultError = err
	return p
}

// WithChatFunc sets a custom function for handling chat requests.
func (p *ScenarioProvider) WithChatFunc(fn func(req llm.ChatRequest) (*llm.ChatResponse, error)) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChat = fn
	return p
}

// next records req and picks the scripted response for it.
func (p *ScenarioProvider) next(req llm.ChatRequest) (ScriptedResponse, func(llm.ChatRequest) (*llm.ChatResponse, error), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	if p.onChat != nil {
		return ScriptedResponse{}, p.onChat, nil
	}
	for p.currentIndex < len(p.responses) {
		resp := p.responses[p.currentIndex]
		p.currentIndex++
		if resp.Condition == nil || resp.Condition(req) {
			return resp, nil, nil
		}
	}
	if p.defaultError != nil {
		return ScriptedResponse{}, nil, p.defaultError
	}
	return ScriptedResponse{}, nil, fmt.Errorf("no more scripted responses (call %d)", len(p.requests))
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Chat implements llm.Provider.
func (p *ScenarioProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, fn, err := p.next(req)
	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(req)
	}
	if err := wait(ctx, resp.Delay); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	content := resp.Content
	if content == "" {
		content = strings.Join(resp.Tokens, "")
	}
	return &llm.ChatResponse{Content: content, Usage: resp.Usage}, nil
}

// ChatStream implements llm.StreamingProvider.
func (p *ScenarioProvider) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	resp, fn, err := p.next(req)
	if err != nil {
		return nil, err
	}
	if fn != nil {
		out, err := fn(req)
		if err != nil {
			return nil, err
		}
		resp = ScriptedResponse{Content: out.Content, Usage: out.Usage}
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	tokens := resp.Tokens
	if len(tokens) == 0 && resp.Content != "" {
		tokens = []string{resp.Content}
	}

	chunks := make(chan llm.StreamChunk)
	go func() {
		defer close(chunks)
		for _, tok := range tokens {
			if err := wait(ctx, resp.Delay); err != nil {
				chunks <- llm.StreamChunk{Error: err}
				return
			}
			select {
			case chunks <- llm.StreamChunk{Content: tok}:
			case <-ctx.Done():
				return
			}
		}
		if resp.StreamError != nil {
			chunks <- llm.StreamChunk{Error: resp.StreamError}
			return
		}
		usage := resp.Usage
		chunks <- llm.StreamChunk{Done: true, Usage: &usage}
	}()
	return chunks, nil
}

// Requests returns all captured requests.
func (p *ScenarioProvider) Requests() []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]llm.ChatRequest, len(p.requests))
	copy(result, p.requests)
	return result
}

// LastRequest returns the most recent request.
func (p *ScenarioProvider) LastRequest() *llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	req := p.requests[len(p.requests)-1]
	return &req
}

// CallCount returns the number of calls made.
func (p *ScenarioProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Reset clears all state.
func (p *ScenarioProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentIndex = 0
	p.requests = p.requests[:0]
}

// StubAgent is a configurable core.Agent. It records every input it sees.
type StubAgent struct {
	name  string
	data  map[string]any
	err   error
	delay time.Duration
	fn    func(ctx context.Context, in core.ExecutionContext) (*core.Result, error)

	mu     sync.Mutex
	inputs []core.ExecutionContext
}

// NewStubAgent creates an agent named name returning empty data.
func NewStubAgent(name string) *StubAgent {
	return &StubAgent{name: name}
}

// Returns sets the data of every run and drops a function set by Does.
func (a *StubAgent) Returns(data map[string]any) *StubAgent {
	a.fn = nil
	a.data = data
	return a
}

// Fails makes every run return err alongside the data and drops a function
// set by Does.
func (a *StubAgent) Fails(err error) *StubAgent {
	a.fn = nil
	a.err = err
	return a
}

// Sleeps delays every run by d, or until the context ends.
func (a *StubAgent) Sleeps(d time.Duration) *StubAgent {
	a.delay = d
	return a
}

// Does replaces the run with fn.
func (a *StubAgent) Does(fn func(ctx context.Context, in core.ExecutionContext) (*core.Result, error)) *StubAgent {
	a.fn = fn
	return a
}

// Name implements core.Agent.
func (a *StubAgent) Name() string { return a.name }

// Run implements core.Agent.
func (a *StubAgent) Run(ctx context.Context, in core.ExecutionContext) (*core.Result, error) {
	a.mu.Lock()
	a.inputs = append(a.inputs, in)
	a.mu.Unlock()

	if a.fn != nil {
		return a.fn(ctx, in)
	}
	if err := wait(ctx, a.delay); err != nil {
		return nil, err
	}
	return &core.Result{AgentName: a.name, Data: a.data}, a.err
}

// Calls returns how many times the agent ran.
func (a *StubAgent) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inputs)
}

// Inputs returns the execution contexts of every run in call order.
func (a *StubAgent) Inputs() []core.ExecutionContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]core.ExecutionContext(nil), a.inputs...)
}

// FakeSearcher is a websearch.Searcher answering from a map of queries.
type FakeSearcher struct {
	mu      sync.Mutex
	Results map[string][]websearch.Result
	// Errors fails the listed queries.
	Errors  map[string]error
	queries []string
}

// Search implements websearch.Searcher.
func (f *FakeSearcher) Search(ctx context.Context, query string, maxResults int) (*websearch.Response, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.Errors[query]; err != nil {
		return nil, err
	}
	results := f.Results[query]
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return &websearch.Response{Query: query, Results: results}, nil
}

// Queries returns the queries received, in no particular order.
func (f *FakeSearcher) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// FakeWeather is a weather.Provider answering from a map of cities.
type FakeWeather struct {
	mu         sync.Mutex
	Conditions map[string]weather.Conditions
	Err        error
	cities     []string
}

// Current implements weather.Provider.
func (f *FakeWeather) Current(_ context.Context, city string) (*weather.Conditions, error) {
	f.mu.Lock()
	f.cities = append(f.cities, city)
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	cond, ok := f.Conditions[city]
	if !ok {
		return nil, fmt.Errorf("unknown city %q", city)
	}
	return &cond, nil
}

// Cities returns the cities looked up, in call order.
func (f *FakeWeather) Cities() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cities...)
}
