// SPDX-License-Identifier: Apache-2.0

// Package agents implements the built-in units of a turn: memory lookup,
// context classification, web search, weather, summarization, chat synthesis
// and memory writing.
package agents

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/errors"
	"github.com/jllopis/jarvis/pkg/llm"
	"github.com/jllopis/jarvis/pkg/memory"
	"github.com/jllopis/jarvis/pkg/weather"
	"github.com/jllopis/jarvis/pkg/websearch"
)

// TokenObserver receives token usage of every LLM call an agent makes.
// *telemetry.TokenRecorder implements it.
type TokenObserver interface {
	ObserveLLM(agent, tier string, promptTokens, completionTokens int, err error)
}

// Option configures an agent.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	tokens   TokenObserver
	timeout  time.Duration
	maxWords int
}

// WithLogger sets the logger for agent diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTokenObserver reports LLM token usage.
func WithTokenObserver(obs TokenObserver) Option {
	return func(o *options) {
		o.tokens = obs
	}
}

// WithTimeout bounds the agent's own external calls: the memory lookups, the
// classifier LLM call or each search query. The registry deadline still
// applies on top.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxContextWords caps the memory context handed to chat.
func WithMaxContextWords(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxWords = n
		}
	}
}

func newOptions(timeout time.Duration, opts []Option) options {
	o := options{logger: slog.Default(), timeout: timeout, maxWords: DefaultMaxContextWords}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// complete runs one non-streaming LLM call and reports its usage.
func (o options) complete(ctx context.Context, agent, tier string, m llm.Model, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if m.Provider == nil {
		return nil, errors.New(errors.CodeLLMError, "no provider for "+tier+" tier", nil)
	}
	resp, err := m.Provider.Chat(ctx, req)
	o.observe(agent, tier, resp, err)
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, agent+" llm call failed", err)
	}
	return resp, nil
}

func (o options) observe(agent, tier string, resp *llm.ChatResponse, err error) {
	if o.tokens == nil {
		return
	}
	var usage llm.Usage
	if resp != nil {
		usage = resp.Usage
	}
	o.tokens.ObserveLLM(agent, tier, usage.PromptTokens, usage.CompletionTokens, err)
}

// parseObject decodes a JSON object from an LLM answer. Text around the
// outermost braces is ignored.
func parseObject(raw string) (map[string]any, error) {
	var out map[string]any
	err := json.Unmarshal([]byte(raw), &out)
	if err == nil && out != nil {
		return out, nil
	}
	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return nil, errors.New(errors.CodeLLMError, "no JSON object in model output", err)
	}
	out = nil
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return nil, errors.New(errors.CodeLLMError, "malformed JSON in model output", err)
	}
	return out, nil
}

// trimWords keeps at most n whitespace separated words of s.
func trimWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return s
	}
	return strings.Join(words[:n], " ")
}

// Deps are the collaborators of the built-in agents.
type Deps struct {
	Tiers   llm.Tiers
	Memory  memory.Store
	Search  websearch.Searcher
	Weather weather.Provider

	Logger *slog.Logger
	Tokens TokenObserver

	MemoryTimeout   time.Duration
	ContextTimeout  time.Duration
	SearchTimeout   time.Duration
	MaxContextWords int
}

// Builtin returns the seven built-in agents wired to d.
func Builtin(d Deps) []core.Agent {
	common := []Option{WithLogger(d.Logger), WithTokenObserver(d.Tokens)}
	with := func(extra ...Option) []Option {
		return append(append([]Option(nil), common...), extra...)
	}
	return []core.Agent{
		NewMemory(d.Memory, with(WithTimeout(d.MemoryTimeout), WithMaxContextWords(d.MaxContextWords))...),
		NewContext(d.Tiers, with(WithTimeout(d.ContextTimeout))...),
		NewSearch(d.Search, with(WithTimeout(d.SearchTimeout))...),
		NewWeather(d.Weather, with()...),
		NewSummarizer(d.Tiers, with()...),
		NewChat(d.Tiers, with()...),
		NewMemoryWriter(d.Tiers, d.Memory, with()...),
	}
}
