package tracestore

import (
	"context"
	"database/sql"
	stderrors "errors"

	_ "modernc.org/sqlite"

	"github.com/jllopis/jarvis/pkg/errors"
)

// SQLiteStore persists turn records in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New(errors.CodeInvalidInput, "db is nil", nil)
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Save stores a single turn record. Saving a turn id twice replaces it.
func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	if rec.TurnID == "" {
		return errors.New(errors.CodeInvalidInput, "turn id is empty", nil)
	}
	trace, err := encodeTrace(rec.Trace)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO turn_traces (
			turn_id, session_id, user_id, intent, model, fallback, trace_json, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.TurnID,
		rec.SessionID,
		rec.UserID,
		rec.Intent,
		rec.Model,
		rec.Fallback,
		string(trace),
		normalizeTime(rec.StartedAt),
		normalizeTime(rec.FinishedAt),
	)
	return err
}

const selectColumns = `
	SELECT turn_id, session_id, user_id, intent, model, fallback, trace_json, started_at, finished_at
	FROM turn_traces
`

// Get returns the record for turnID.
func (s *SQLiteStore) Get(ctx context.Context, turnID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE turn_id = ?", turnID)
	rec, err := scanRecord(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return Record{}, notFound(turnID)
	}
	return rec, err
}

// List returns records matching the filter, newest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := selectColumns
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.SessionID != "" {
		addFilter("session_id = ?", filter.SessionID)
	}
	if filter.Intent != "" {
		addFilter("intent = ?", filter.Intent)
	}
	query += where + " ORDER BY started_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec       Record
		traceJSON string
		started   sql.NullTime
		finished  sql.NullTime
	)
	if err := row.Scan(
		&rec.TurnID,
		&rec.SessionID,
		&rec.UserID,
		&rec.Intent,
		&rec.Model,
		&rec.Fallback,
		&traceJSON,
		&started,
		&finished,
	); err != nil {
		return Record{}, err
	}
	if traceJSON != "" {
		if trace, err := decodeTrace([]byte(traceJSON)); err == nil {
			rec.Trace = trace
		}
	}
	if started.Valid {
		rec.StartedAt = started.Time
	}
	if finished.Valid {
		rec.FinishedAt = finished.Time
	}
	return rec, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS turn_traces (
			turn_id TEXT PRIMARY KEY,
			session_id TEXT,
			user_id TEXT,
			intent TEXT,
			model TEXT,
			fallback BOOLEAN NOT NULL DEFAULT 0,
			trace_json TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_turn_traces_session ON turn_traces(session_id);
		CREATE INDEX IF NOT EXISTS idx_turn_traces_intent ON turn_traces(intent);
	`)
	return err
}
