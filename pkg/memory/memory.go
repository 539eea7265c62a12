// Package memory stores long-lived user facts and retrieves them by relevance
// or recency.
package memory

import (
	"context"
	"time"

	"github.com/jllopis/jarvis/pkg/core"
)

// Store is the memory backend used by the memory and memory writer agents.
type Store interface {
	// Search returns up to limit stored texts relevant to query, best first.
	Search(ctx context.Context, query string, limit int) ([]string, error)
	// Recent returns up to n stored texts, newest first.
	Recent(ctx context.Context, n int) ([]string, error)
	// Store saves msgs on behalf of userID. Empty messages are ignored.
	Store(ctx context.Context, msgs []core.Message, userID string) error
}

// Entry is one stored memory.
type Entry struct {
	ID        string
	UserID    string
	Role      core.Role
	Text      string
	CreatedAt time.Time
}

// entriesFrom turns msgs into entries, skipping blank content.
func entriesFrom(msgs []core.Message, userID string, now time.Time) []Entry {
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		text := trimText(m.Content)
		if text == "" {
			continue
		}
		role := m.Role
		if role == "" {
			role = core.RoleUser
		}
		out = append(out, Entry{UserID: userID, Role: role, Text: text, CreatedAt: now})
	}
	return out
}
