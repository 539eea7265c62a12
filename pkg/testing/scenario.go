// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing provides utilities for testing Jarvis agents and turns.
//
// This package includes:
//   - Turn scenarios with declarative expectations
//   - A scripted LLM provider with streaming support
//   - Stub agents and fake search and weather backends
//   - Trace assertion helpers
//
// Example usage:
//
//	scenario := testing.NewScenario("greeting").
//	    WithMessage("hi").
//	    ExpectIntent("greeting").
//	    ExpectModel("fast").
//	    ExpectSkipped("search", "weather")
//
//	result := scenario.Run(t, orch)
//	result.Assert(t, scenario)
package testing

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/orchestrator"
)

// TurnRunner runs one conversational turn. *orchestrator.Orchestrator
// implements it.
type TurnRunner interface {
	Process(ctx context.Context, turn orchestrator.Turn) (*orchestrator.TurnResult, error)
}

// Scenario defines one turn and what it should produce.
type Scenario struct {
	name         string
	turn         orchestrator.Turn
	context      context.Context
	timeout      time.Duration
	expectations []Expectation
}

// Expectation defines a condition to verify after running a scenario.
type Expectation interface {
	// Check verifies the expectation against the result.
	Check(result *ScenarioResult) error
	// Description returns a human-readable description of the expectation.
	Description() string
}

// ScenarioResult contains the outcome of running a scenario.
type ScenarioResult struct {
	Turn     *orchestrator.TurnResult
	Error    error
	Tokens   []string
	Duration time.Duration
}

// NewScenario creates a new test scenario with the given name.
func NewScenario(name string) *Scenario {
	return &Scenario{
		name:    name,
		timeout: 30 * time.Second,
		context: context.Background(),
	}
}

// WithMessage sets the user message.
func (s *Scenario) WithMessage(msg string) *Scenario {
	s.turn.UserMessage = msg
	return s
}

// WithHistory sets the conversation history.
func (s *Scenario) WithHistory(history []core.Message) *Scenario {
	s.turn.History = history
	return s
}

// WithUser sets the user and session identifiers.
func (s *Scenario) WithUser(userID, sessionID string) *Scenario {
	s.turn.UserID = userID
	s.turn.SessionID = sessionID
	return s
}

// WithContext sets the context for the scenario.
func (s *Scenario) WithContext(ctx context.Context) *Scenario {
	s.context = ctx
	return s
}

// WithTimeout sets the timeout for the scenario.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// Expect adds an expectation to the scenario.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	s.expectations = append(s.expectations, exp)
	return s
}

// ExpectResponse adds a response expectation.
func (s *Scenario) ExpectResponse(matcher StringMatcher) *Scenario {
	return s.Expect(&responseExpectation{matcher: matcher})
}

// ExpectStreamed expects the streamed tokens to join into a matching text.
func (s *Scenario) ExpectStreamed(matcher StringMatcher) *Scenario {
	return s.Expect(&streamExpectation{matcher: matcher})
}

// ExpectNoError expects Process to succeed.
func (s *Scenario) ExpectNoError() *Scenario {
	return s.Expect(&noErrorExpectation{})
}

// ExpectError expects an error matching the given pattern.
func (s *Scenario) ExpectError(matcher StringMatcher) *Scenario {
	return s.Expect(&errorExpectation{matcher: matcher})
}

// ExpectIntent expects the classified intent.
func (s *Scenario) ExpectIntent(intent string) *Scenario {
	return s.Expect(&fieldExpectation{field: "intent", want: intent, get: func(r *orchestrator.TurnResult) string { return r.Intent }})
}

// ExpectModel expects the synthesis model tier.
func (s *Scenario) ExpectModel(model string) *Scenario {
	return s.Expect(&fieldExpectation{field: "model", want: model, get: func(r *orchestrator.TurnResult) string { return r.Model }})
}

// ExpectStatus expects the trace entry for agent to have status.
func (s *Scenario) ExpectStatus(agent string, status core.Status) *Scenario {
	return s.Expect(&statusExpectation{agent: agent, status: status})
}

// ExpectSkipped expects every listed agent to be skipped with zero duration.
func (s *Scenario) ExpectSkipped(agents ...string) *Scenario {
	for _, a := range agents {
		s.Expect(&skippedExpectation{agent: a})
	}
	return s
}

// ExpectTraceOrder expects the trace to list exactly these agents in order.
func (s *Scenario) ExpectTraceOrder(agents ...string) *Scenario {
	return s.Expect(&orderExpectation{agents: agents})
}

// ExpectHistoryLen expects the carried history to have n messages.
func (s *Scenario) ExpectHistoryLen(n int) *Scenario {
	return s.Expect(&historyExpectation{n: n})
}

// ExpectMaxDuration expects the turn to complete within the given duration.
func (s *Scenario) ExpectMaxDuration(d time.Duration) *Scenario {
	return s.Expect(&maxDurationExpectation{max: d})
}

// Run executes the scenario. Streamed tokens are collected into the result.
func (s *Scenario) Run(t *testing.T, runner TurnRunner) *ScenarioResult {
	t.Helper()

	ctx, cancel := context.WithTimeout(s.context, s.timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		tokens []string
	)
	turn := s.turn
	turn.Sink = func(_ context.Context, token string) error {
		mu.Lock()
		defer mu.Unlock()
		tokens = append(tokens, token)
		return nil
	}

	start := time.Now()
	res, err := runner.Process(ctx, turn)
	duration := time.Since(start)

	mu.Lock()
	defer mu.Unlock()
	return &ScenarioResult{
		Turn:     res,
		Error:    err,
		Tokens:   append([]string(nil), tokens...),
		Duration: duration,
	}
}

// Assert checks all expectations and reports failures to the test.
func (r *ScenarioResult) Assert(t *testing.T, scenario *Scenario) {
	t.Helper()

	for _, exp := range scenario.expectations {
		if err := exp.Check(r); err != nil {
			t.Errorf("scenario %q: expectation %q failed: %v", scenario.name, exp.Description(), err)
		}
	}
}

// StringMatcher defines how to match strings in expectations.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

// Contains returns a matcher that checks if the string contains the substring.
func Contains(substr string) StringMatcher {
	return &containsMatcher{substr: substr}
}

// Equals returns a matcher that checks exact string equality.
func Equals(expected string) StringMatcher {
	return &equalsMatcher{expected: expected}
}

// Regex returns a matcher that checks against a regular expression.
func Regex(pattern string) StringMatcher {
	return &regexMatcher{re: regexp.MustCompile(pattern)}
}

// HasPrefix returns a matcher that checks if the string has the given prefix.
func HasPrefix(prefix string) StringMatcher {
	return &prefixMatcher{prefix: prefix}
}

type containsMatcher struct {
	substr string
}

func (m *containsMatcher) Match(s string) bool { return strings.Contains(s, m.substr) }

func (m *containsMatcher) Description() string { return fmt.Sprintf("contains %q", m.substr) }

type equalsMatcher struct {
	expected string
}

func (m *equalsMatcher) Match(s string) bool { return s == m.expected }

func (m *equalsMatcher) Description() string { return fmt.Sprintf("equals %q", m.expected) }

type regexMatcher struct {
	re *regexp.Regexp
}

func (m *regexMatcher) Match(s string) bool { return m.re.MatchString(s) }

func (m *regexMatcher) Description() string { return fmt.Sprintf("matches regex %q", m.re) }

type prefixMatcher struct {
	prefix string
}

func (m *prefixMatcher) Match(s string) bool { return strings.HasPrefix(s, m.prefix) }

func (m *prefixMatcher) Description() string { return fmt.Sprintf("has prefix %q", m.prefix) }

// Expectation implementations

var errNoTurn = fmt.Errorf("no turn result")

type responseExpectation struct {
	matcher StringMatcher
}

func (e *responseExpectation) Check(r *ScenarioResult) error {
	if r.Turn == nil {
		return errNoTurn
	}
	if !e.matcher.Match(r.Turn.Response) {
		return fmt.Errorf("response %q does not match: %s", r.Turn.Response, e.matcher.Description())
	}
	return nil
}

func (e *responseExpectation) Description() string {
	return "response " + e.matcher.Description()
}

type streamExpectation struct {
	matcher StringMatcher
}

func (e *streamExpectation) Check(r *ScenarioResult) error {
	joined := strings.Join(r.Tokens, "")
	if !e.matcher.Match(joined) {
		return fmt.Errorf("streamed %q does not match: %s", joined, e.matcher.Description())
	}
	return nil
}

func (e *streamExpectation) Description() string {
	return "streamed text " + e.matcher.Description()
}

type noErrorExpectation struct{}

func (e *noErrorExpectation) Check(r *ScenarioResult) error {
	if r.Error != nil {
		return fmt.Errorf("unexpected error: %v", r.Error)
	}
	return nil
}

func (e *noErrorExpectation) Description() string { return "no error" }

type errorExpectation struct {
	matcher StringMatcher
}

func (e *errorExpectation) Check(r *ScenarioResult) error {
	if r.Error == nil {
		return fmt.Errorf("expected error, got none")
	}
	if !e.matcher.Match(r.Error.Error()) {
		return fmt.Errorf("error %q does not match: %s", r.Error, e.matcher.Description())
	}
	return nil
}

func (e *errorExpectation) Description() string {
	return "error " + e.matcher.Description()
}

type fieldExpectation struct {
	field string
	want  string
	get   func(*orchestrator.TurnResult) string
}

func (e *fieldExpectation) Check(r *ScenarioResult) error {
	if r.Turn == nil {
		return errNoTurn
	}
	if got := e.get(r.Turn); got != e.want {
		return fmt.Errorf("%s is %q, want %q", e.field, got, e.want)
	}
	return nil
}

func (e *fieldExpectation) Description() string {
	return fmt.Sprintf("%s is %q", e.field, e.want)
}

type statusExpectation struct {
	agent  string
	status core.Status
}

func (e *statusExpectation) Check(r *ScenarioResult) error {
	if r.Turn == nil {
		return errNoTurn
	}
	entry, ok := FindTrace(r.Turn.Trace, e.agent)
	if !ok {
		return fmt.Errorf("no trace entry for %q", e.agent)
	}
	if entry.Status != e.status {
		return fmt.Errorf("%s status is %q", e.agent, entry.Status)
	}
	return nil
}

func (e *statusExpectation) Description() string {
	return fmt.Sprintf("%s is %s", e.agent, e.status)
}

type skippedExpectation struct {
	agent string
}

func (e *skippedExpectation) Check(r *ScenarioResult) error {
	if r.Turn == nil {
		return errNoTurn
	}
	entry, ok := FindTrace(r.Turn.Trace, e.agent)
	if !ok {
		return fmt.Errorf("no trace entry for %q", e.agent)
	}
	if entry.Status != core.StatusSkipped || !entry.Skipped || entry.DurationMS != 0 {
		return fmt.Errorf("%s entry is %+v", e.agent, entry)
	}
	return nil
}

func (e *skippedExpectation) Description() string {
	return e.agent + " skipped"
}

type orderExpectation struct {
	agents []string
}

func (e *orderExpectation) Check(r *ScenarioResult) error {
	if r.Turn == nil {
		return errNoTurn
	}
	got := TraceAgents(r.Turn.Trace)
	if strings.Join(got, ",") != strings.Join(e.agents, ",") {
		return fmt.Errorf("trace order is %v", got)
	}
	return nil
}

func (e *orderExpectation) Description() string {
	return fmt.Sprintf("trace order %v", e.agents)
}

type historyExpectation struct {
	n int
}

func (e *historyExpectation) Check(r *ScenarioResult) error {
	if r.Turn == nil {
		return errNoTurn
	}
	if len(r.Turn.History) != e.n {
		return fmt.Errorf("history has %d messages", len(r.Turn.History))
	}
	return nil
}

func (e *historyExpectation) Description() string {
	return fmt.Sprintf("history has %d messages", e.n)
}

type maxDurationExpectation struct {
	max time.Duration
}

func (e *maxDurationExpectation) Check(r *ScenarioResult) error {
	if r.Duration > e.max {
		return fmt.Errorf("duration %v exceeds maximum %v", r.Duration, e.max)
	}
	return nil
}

func (e *maxDurationExpectation) Description() string {
	return fmt.Sprintf("completes within %v", e.max)
}
