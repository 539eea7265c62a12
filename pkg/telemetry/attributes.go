// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys for orchestration telemetry.
const (
	// Agent attributes
	AttrAgentName      = "jarvis.agent.name"
	AttrAgentStatus    = "jarvis.agent.status"
	AttrAgentError     = "jarvis.agent.error"
	AttrAgentTimeoutMs = "jarvis.agent.timeout_ms"
	AttrAgentLatencyMs = "jarvis.agent.latency_ms"

	// Turn attributes
	AttrTurnID         = "jarvis.turn.id"
	AttrTurnIntent     = "jarvis.turn.intent"
	AttrTurnModel      = "jarvis.turn.model"
	AttrTurnHistoryLen = "jarvis.turn.history_len"
	AttrTurnFallback   = "jarvis.turn.fallback"
	AttrSessionID      = "jarvis.session.id"

	// Memory attributes
	AttrMemoryBackend   = "jarvis.memory.backend"
	AttrMemoryRetrieved = "jarvis.memory.retrieved_count"
	AttrMemoryStored    = "jarvis.memory.stored"

	// LLM attributes (standard gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMMessages     = "gen_ai.request.messages"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal  = "gen_ai.usage.total_tokens"
)

// AgentAttributes returns common attributes for agent run spans.
func AgentAttributes(name, turnID string, timeoutMs int64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrAgentName, name),
	}
	if turnID != "" {
		attrs = append(attrs, attribute.String(AttrTurnID, turnID))
	}
	if timeoutMs > 0 {
		attrs = append(attrs, attribute.Int64(AttrAgentTimeoutMs, timeoutMs))
	}
	return attrs
}

// AgentOutcomeAttributes describes how an agent run ended.
func AgentOutcomeAttributes(status, errText string, latencyMs int64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrAgentStatus, status),
		attribute.Int64(AttrAgentLatencyMs, latencyMs),
	}
	if errText != "" {
		attrs = append(attrs, attribute.String(AttrAgentError, truncate(errText, 200)))
	}
	return attrs
}

// TurnAttributes returns attributes for a turn span.
func TurnAttributes(turnID, intent, model string, historyLen int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrTurnID, turnID),
		attribute.Int(AttrTurnHistoryLen, historyLen),
	}
	if intent != "" {
		attrs = append(attrs, attribute.String(AttrTurnIntent, intent))
	}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrTurnModel, model))
	}
	return attrs
}

// MemoryAttributes returns attributes for memory operations.
func MemoryAttributes(backend string, retrieved int, stored bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if backend != "" {
		attrs = append(attrs, attribute.String(AttrMemoryBackend, backend))
	}
	if retrieved > 0 {
		attrs = append(attrs, attribute.Int(AttrMemoryRetrieved, retrieved))
	}
	if stored {
		attrs = append(attrs, attribute.Bool(AttrMemoryStored, stored))
	}
	return attrs
}

// LLMAttributes returns attributes for LLM call spans.
func LLMAttributes(model, provider string, msgCount int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
		attribute.Int(AttrLLMMessages, msgCount),
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	return attrs
}

// LLMUsageAttributes returns token usage attributes.
func LLMUsageAttributes(inputTokens, outputTokens int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	if inputTokens > 0 || outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensTotal, inputTokens+outputTokens))
	}
	return attrs
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
