package core

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionContextDefaults(t *testing.T) {
	var empty ExecutionContext
	assert.Equal(t, "", empty.String(KeyUserMessage))
	assert.Nil(t, empty.Strings(KeyEntities))
	assert.Nil(t, empty.Messages(KeyConversationHistory))
	assert.Equal(t, 16, empty.Int(KeyMaxTurns, 16))
	assert.Nil(t, empty.Sink())
	assert.Equal(t, "fast", empty.StringOr(KeyModel, "fast"))
}

func TestExecutionContextWithIsCopyOnWrite(t *testing.T) {
	base := NewExecutionContext(map[string]any{KeyUserMessage: "hi"})
	next := base.With(KeyIntent, "greeting")

	assert.Equal(t, "", base.String(KeyIntent))
	assert.Equal(t, "greeting", next.String(KeyIntent))
	assert.Equal(t, "hi", next.String(KeyUserMessage))
	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, next.Len())
}

func TestExecutionContextCopiesInput(t *testing.T) {
	values := map[string]any{KeyUserMessage: "hi"}
	ec := NewExecutionContext(values)
	values[KeyUserMessage] = "changed"
	assert.Equal(t, "hi", ec.String(KeyUserMessage))
}

func TestExecutionContextTypedAccessors(t *testing.T) {
	history := []Message{{Role: RoleUser, Content: "a"}}
	ec := NewExecutionContext(map[string]any{
		KeyEntities:            []any{"Paris", 3, "Rome"},
		KeyMaxTurns:            float64(12),
		KeyConversationHistory: history,
	})

	assert.Equal(t, []string{"Paris", "Rome"}, ec.Strings(KeyEntities))
	assert.Equal(t, 12, ec.Int(KeyMaxTurns, 16))

	got := ec.Messages(KeyConversationHistory)
	got[0].Content = "mutated"
	assert.Equal(t, "a", history[0].Content, "Messages must return a copy")
}

func TestExecutionContextSink(t *testing.T) {
	var got []string
	sink := TokenSink(func(_ context.Context, tok string) error {
		got = append(got, tok)
		return nil
	})
	ec := NewExecutionContext(map[string]any{KeyStreamSink: sink})
	if s := ec.Sink(); s != nil {
		_ = s(context.Background(), "x")
	}
	assert.Equal(t, []string{"x"}, got)
}

func TestEnsureTurnID(t *testing.T) {
	ctx, id := EnsureTurnID(context.Background())
	assert.True(t, strings.HasPrefix(id, "turn-"))

	_, again := EnsureTurnID(ctx)
	assert.Equal(t, id, again)
}

func TestSessionID(t *testing.T) {
	_, ok := SessionID(WithSessionID(context.Background(), ""))
	assert.False(t, ok)

	id, ok := SessionID(WithSessionID(context.Background(), "s-1"))
	assert.True(t, ok)
	assert.Equal(t, "s-1", id)
}

func TestResultHelpers(t *testing.T) {
	var nilResult *Result
	assert.False(t, nilResult.Failed())
	assert.Equal(t, "", nilResult.String("x"))

	r := &Result{AgentName: "chat", Data: map[string]any{"full_response": "hello"}, LatencyMS: 12}
	assert.Equal(t, StatusOK, r.Status())
	assert.Equal(t, TraceEntry{Agent: "chat", DurationMS: 12, Status: StatusOK}, TraceFromResult("chat", r))

	failed := ErrorResult("search", "timeout")
	assert.Equal(t, StatusError, failed.Status())
	assert.Equal(t, TraceEntry{Agent: "weather", Status: StatusSkipped, Skipped: true}, SkippedTrace("weather"))
}
