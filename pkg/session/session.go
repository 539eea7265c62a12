// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package session keeps per-session conversation history between turns.
package session

import (
	"context"
	"time"

	"github.com/jllopis/jarvis/pkg/core"
)

// DefaultMaxMessages caps a stored history: ten user/assistant pairs.
const DefaultMaxMessages = 20

// Store loads and saves whole histories keyed by session id.
type Store interface {
	// Load returns the history for id, or an empty history for an unknown id.
	Load(ctx context.Context, id string) ([]core.Message, error)
	// Save replaces the history for id.
	Save(ctx context.Context, id string, msgs []core.Message) error
	// Delete removes the session.
	Delete(ctx context.Context, id string) error
	// List returns known session ids, sorted.
	List(ctx context.Context) ([]string, error)
	// Prune removes sessions not saved within olderThan and returns how many.
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}

// AppendTurn appends one exchange to history and drops the oldest pairs while
// the result exceeds maxMessages. history is not modified.
func AppendTurn(history []core.Message, userMessage, response string, maxMessages int) []core.Message {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	out := make([]core.Message, 0, len(history)+2)
	out = append(out, history...)
	out = append(out,
		core.Message{Role: core.RoleUser, Content: userMessage},
		core.Message{Role: core.RoleAssistant, Content: response},
	)
	for len(out) > maxMessages {
		drop := 2
		if len(out)-maxMessages == 1 {
			drop = 1
		}
		out = out[drop:]
	}
	return out
}
