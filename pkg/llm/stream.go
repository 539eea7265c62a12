package llm

import (
	"context"
	"strings"
)

// ChatStreamed runs req on p, handing each content chunk to onToken in
// generation order. Providers without streaming support fall back to a
// single Chat call whose whole content is delivered as one token.
//
// The accumulated content is returned even when the stream fails midway.
func ChatStreamed(ctx context.Context, p Provider, req ChatRequest, onToken func(string) error) (*ChatResponse, error) {
	sp, ok := p.(StreamingProvider)
	if !ok {
		resp, err := p.Chat(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.Content != "" && onToken != nil {
			if err := onToken(resp.Content); err != nil {
				return resp, err
			}
		}
		return resp, nil
	}

	chunks, err := sp.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}

	var (
		sb    strings.Builder
		usage Usage
	)
	for chunk := range chunks {
		if chunk.Error != nil {
			return &ChatResponse{Content: sb.String(), Usage: usage}, chunk.Error
		}
		if chunk.Content != "" {
			sb.WriteString(chunk.Content)
			if onToken != nil {
				if err := onToken(chunk.Content); err != nil {
					drain(chunks)
					return &ChatResponse{Content: sb.String(), Usage: usage}, err
				}
			}
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if chunk.Done {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return &ChatResponse{Content: sb.String(), Usage: usage}, err
	}
	return &ChatResponse{Content: sb.String(), Usage: usage}, nil
}

func drain(ch <-chan StreamChunk) {
	go func() {
		for range ch {
		}
	}()
}
