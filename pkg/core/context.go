package core

import (
	"context"
	"maps"

	"github.com/google/uuid"
)

// Keys understood by the built-in agents.
const (
	KeyUserMessage         = "user_message"
	KeyConversationHistory = "conversation_history"
	KeyUserID              = "user_id"
	KeyEntities            = "entities"
	KeyMemoryContext       = "memory_context"
	KeyModel               = "model"
	KeySearchContext       = "search_context"
	KeyWeatherContext      = "weather_context"
	KeyIntent              = "intent"
	KeyStreamSink          = "stream_sink"
	KeyMaxTurns            = "max_turns"
	KeySummarizeCount      = "summarize_count"
	KeyAssistantResponse   = "assistant_response"
	KeyQueryOverride       = "query_override"
)

// ExecutionContext is the read-only input handed to an agent.
// The zero value is an empty context. Agents never mutate it; the orchestrator
// derives new contexts with With.
type ExecutionContext struct {
	values map[string]any
}

// NewExecutionContext copies values into a new context.
func NewExecutionContext(values map[string]any) ExecutionContext {
	return ExecutionContext{values: maps.Clone(values)}
}

// With returns a copy of the context with key set to value.
func (c ExecutionContext) With(key string, value any) ExecutionContext {
	next := make(map[string]any, len(c.values)+1)
	maps.Copy(next, c.values)
	next[key] = value
	return ExecutionContext{values: next}
}

// Value returns the raw value for key.
func (c ExecutionContext) Value(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Len returns the number of keys.
func (c ExecutionContext) Len() int { return len(c.values) }

// String returns the string for key, or "".
func (c ExecutionContext) String(key string) string {
	s, _ := c.values[key].(string)
	return s
}

// StringOr returns the string for key, or def when missing or empty.
func (c ExecutionContext) StringOr(key, def string) string {
	if s := c.String(key); s != "" {
		return s
	}
	return def
}

// Strings returns the string list for key. []any values holding strings are accepted.
func (c ExecutionContext) Strings(key string) []string {
	return AsStrings(c.values[key])
}

// Int returns the integer for key, or def.
func (c ExecutionContext) Int(key string, def int) int {
	switch v := c.values[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Messages returns a copy of the conversation history stored under key.
func (c ExecutionContext) Messages(key string) []Message {
	msgs, _ := c.values[key].([]Message)
	return CloneMessages(msgs)
}

// Sink returns the token sink stored under KeyStreamSink, if any.
func (c ExecutionContext) Sink() TokenSink {
	sink, _ := c.values[KeyStreamSink].(TokenSink)
	return sink
}

// AsStrings converts a loosely typed list into strings, dropping other element types.
func AsStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

type (
	turnIDKey    struct{}
	sessionIDKey struct{}
)

// WithTurnID attaches a turn id to ctx. Log records and agent spans made
// with ctx carry it.
func WithTurnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, turnIDKey{}, id)
}

// TurnID returns the turn id of ctx, if any.
func TurnID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(turnIDKey{}).(string)
	return id, ok
}

// EnsureTurnID returns ctx with a turn id, generating "turn-<uuid>" when ctx
// has none.
func EnsureTurnID(ctx context.Context) (context.Context, string) {
	if id, ok := TurnID(ctx); ok {
		return ctx, id
	}
	id := "turn-" + uuid.NewString()
	return WithTurnID(ctx, id), id
}

// WithSessionID attaches the conversation session id to ctx.
func WithSessionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionID returns the session id of ctx, if any.
func SessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey{}).(string)
	return id, ok
}
