package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/jarvis/pkg/core"
)

// InMemory is a process-local Store with keyword search.
type InMemory struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{now: time.Now}
}

// Store appends msgs.
func (m *InMemory) Store(_ context.Context, msgs []core.Message, userID string) error {
	entries := entriesFrom(msgs, userID, m.now())
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		e.ID = uuid.NewString()
		m.entries = append(m.entries, e)
	}
	return nil
}

// Search ranks stored texts by the number of query keywords they contain.
func (m *InMemory) Search(_ context.Context, query string, limit int) ([]string, error) {
	terms := keywords(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}
	return rank(terms, m.newest(0), limit), nil
}

// Recent returns the last n texts, newest first.
func (m *InMemory) Recent(_ context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	return m.newest(n), nil
}

// Len returns the number of stored entries.
func (m *InMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// newest returns up to n texts newest first; n <= 0 returns all.
func (m *InMemory) newest(n int) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || n > len(m.entries) {
		n = len(m.entries)
	}
	out := make([]string, 0, n)
	for i := len(m.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.entries[i].Text)
	}
	return out
}

// Check implements core.HealthChecker.
func (m *InMemory) Check(context.Context) core.HealthResult {
	return core.HealthResult{Status: core.HealthHealthy, Component: "memory", LastCheck: time.Now()}
}
