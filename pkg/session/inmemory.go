// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jllopis/jarvis/pkg/core"
)

// InMemory implements Store in process memory.
// Suitable for development, testing, and single-instance deployments.
// Data is lost on restart.
type InMemory struct {
	mu       sync.RWMutex
	sessions map[string]entry
	now      func() time.Time
}

type entry struct {
	messages  []core.Message
	updatedAt time.Time
}

// NewInMemory creates an empty session store.
func NewInMemory() *InMemory {
	return &InMemory{sessions: make(map[string]entry), now: time.Now}
}

// Load returns a copy of the stored history.
func (m *InMemory) Load(_ context.Context, id string) ([]core.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return core.CloneMessages(m.sessions[id].messages), nil
}

// Save stores a copy of msgs.
func (m *InMemory) Save(_ context.Context, id string, msgs []core.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = entry{messages: core.CloneMessages(msgs), updatedAt: m.now()}
	return nil
}

// Delete removes the session.
func (m *InMemory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// List returns all session ids.
func (m *InMemory) List(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Prune removes sessions idle for longer than olderThan.
func (m *InMemory) Prune(_ context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-olderThan)
	n := 0
	for id, e := range m.sessions {
		if e.updatedAt.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}
