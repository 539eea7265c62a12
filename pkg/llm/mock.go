package llm

import (
	"context"
	"strings"
)

// MockProvider is a testing implementation of Provider and StreamingProvider.
type MockProvider struct {
	Response string
	Err      error
	// Tokens, when set, are streamed in order instead of Response.
	Tokens []string
}

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	content := m.Response
	if content == "" && len(m.Tokens) > 0 {
		content = strings.Join(m.Tokens, "")
	}
	return &ChatResponse{
		Content: content,
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 10,
			TotalTokens:      20,
		},
	}, nil
}

// ChatStream emits Tokens, or the Chat response as a single chunk.
func (m *MockProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	tokens := m.Tokens
	if len(tokens) == 0 {
		resp, err := m.Chat(ctx, req)
		if err != nil {
			return nil, err
		}
		tokens = []string{resp.Content}
	}

	chunks := make(chan StreamChunk, len(tokens)+1)
	for _, tok := range tokens {
		chunks <- StreamChunk{Content: tok}
	}
	chunks <- StreamChunk{Done: true, Usage: &Usage{CompletionTokens: len(tokens), TotalTokens: len(tokens)}}
	close(chunks)
	return chunks, nil
}

// EchoProvider answers every request by repeating the last user message, or
// with an empty JSON object when JSON output is requested. It backs the
// "mock" provider setting for offline runs.
type EchoProvider struct{}

func (EchoProvider) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.JSON {
		return &ChatResponse{Content: "{}"}, nil
	}
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	out := "You said: " + last
	return &ChatResponse{Content: out, Usage: Usage{CompletionTokens: len(strings.Fields(out))}}, nil
}
