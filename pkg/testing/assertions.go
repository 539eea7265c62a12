// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"strings"
	"testing"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/llm"
)

// FindTrace returns the first entry for agent.
func FindTrace(trace []core.TraceEntry, agent string) (core.TraceEntry, bool) {
	for _, e := range trace {
		if e.Agent == agent {
			return e, true
		}
	}
	return core.TraceEntry{}, false
}

// TraceAgents returns the agent names of trace in order.
func TraceAgents(trace []core.TraceEntry) []string {
	out := make([]string, len(trace))
	for i, e := range trace {
		out[i] = e.Agent
	}
	return out
}

// AssertTraceStatus fails the test unless agent appears in trace with status.
func AssertTraceStatus(t *testing.T, trace []core.TraceEntry, agent string, status core.Status) {
	t.Helper()
	entry, ok := FindTrace(trace, agent)
	if !ok {
		t.Errorf("no trace entry for %q in %v", agent, TraceAgents(trace))
		return
	}
	if entry.Status != status {
		t.Errorf("trace entry %q: expected status %q, got %q", agent, status, entry.Status)
	}
}

// AssertSystemPrompt fails the test unless the first message of req is a
// system message containing every fragment.
func AssertSystemPrompt(t *testing.T, req *llm.ChatRequest, fragments ...string) {
	t.Helper()
	if req == nil || len(req.Messages) == 0 {
		t.Errorf("request has no messages")
		return
	}
	first := req.Messages[0]
	if first.Role != llm.RoleSystem {
		t.Errorf("first message role is %q", first.Role)
		return
	}
	for _, f := range fragments {
		if !strings.Contains(first.Content, f) {
			t.Errorf("system prompt does not contain %q:\n%s", f, first.Content)
		}
	}
}
