// Package tracestore keeps the trace of every processed turn for later
// inspection.
package tracestore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/errors"
)

// Record is the audit entry written once per turn.
type Record struct {
	TurnID     string            `json:"turn_id" yaml:"turn_id"`
	SessionID  string            `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	UserID     string            `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Intent     string            `json:"intent" yaml:"intent"`
	Model      string            `json:"model" yaml:"model"`
	Fallback   bool              `json:"fallback" yaml:"fallback"`
	Trace      []core.TraceEntry `json:"trace" yaml:"trace"`
	StartedAt  time.Time         `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time         `json:"finished_at" yaml:"finished_at"`
}

// Store persists turn records.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, turnID string) (Record, error)
	List(ctx context.Context, filter Filter) ([]Record, error)
}

// Filter limits List queries. Results are newest first.
type Filter struct {
	SessionID string
	Intent    string
	Limit     int
}

// DefaultCapacity bounds the in-memory store.
const DefaultCapacity = 500

// MemoryStore keeps the most recent records in memory.
type MemoryStore struct {
	mu       sync.Mutex
	records  []Record
	capacity int
}

// NewMemoryStore returns an in-memory store holding at most capacity records.
// A non-positive capacity selects DefaultCapacity.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{capacity: capacity}
}

// Save appends rec, evicting the oldest record when full.
func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	if rec.TurnID == "" {
		return errors.New(errors.CodeInvalidInput, "turn id is empty", nil)
	}
	rec.Trace = append([]core.TraceEntry(nil), rec.Trace...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	if over := len(s.records) - s.capacity; over > 0 {
		s.records = append([]Record(nil), s.records[over:]...)
	}
	return nil
}

// Get returns the record for turnID.
func (s *MemoryStore) Get(_ context.Context, turnID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].TurnID == turnID {
			return cloneRecord(s.records[i]), nil
		}
	}
	return Record{}, notFound(turnID)
}

// List returns filtered records, newest first.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if filter.SessionID != "" && rec.SessionID != filter.SessionID {
			continue
		}
		if filter.Intent != "" && rec.Intent != filter.Intent {
			continue
		}
		out = append(out, cloneRecord(rec))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func cloneRecord(rec Record) Record {
	rec.Trace = append([]core.TraceEntry(nil), rec.Trace...)
	return rec
}

func notFound(turnID string) error {
	return errors.New(errors.CodeNotFound, "turn not found", nil).WithContext("turn_id", turnID)
}

// encodeTrace marshals trace entries into JSON.
func encodeTrace(trace []core.TraceEntry) ([]byte, error) {
	if trace == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(trace)
}

// decodeTrace parses JSON trace entries.
func decodeTrace(raw []byte) ([]core.TraceEntry, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []core.TraceEntry
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeTime ensures timestamps are in UTC.
func normalizeTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
