// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/errors"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SQLiteStore implements Store with SQLite storage.
// Suitable for a single instance that must keep sessions across restarts.
type SQLiteStore struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// SQLiteConfig configures the SQLite session store.
type SQLiteConfig struct {
	// DB is the database connection. Required.
	DB *sql.DB
	// TableName is the table to use. Default: "session_messages".
	TableName string
}

// NewSQLiteStore creates a new SQLite session store.
// Call Initialize() to create the table if it doesn't exist.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.DB == nil {
		return nil, errors.New(errors.CodeInvalidInput, "database connection is required", nil)
	}
	table := cfg.TableName
	if table == "" {
		table = "session_messages"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid table name %q", table), nil)
	}
	return &SQLiteStore{db: cfg.DB, table: table, now: time.Now}, nil
}

// Initialize creates the session table if it doesn't exist.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_%s_updated ON %s (updated_at);
	`, s.table, s.table, s.table)

	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Load returns the history for id in order.
func (s *SQLiteStore) Load(ctx context.Context, id string) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT role, content FROM %s WHERE session_id = ? ORDER BY seq ASC`, s.table), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Message
	for rows.Next() {
		var m core.Message
		var role string
		if err := rows.Scan(&role, &m.Content); err != nil {
			return nil, err
		}
		m.Role = core.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Save replaces the history for id in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, id string, msgs []core.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE session_id = ?`, s.table), id); err != nil {
		return err
	}
	now := s.now().UTC()
	insert := fmt.Sprintf(`INSERT INTO %s (session_id, seq, role, content, updated_at) VALUES (?, ?, ?, ?, ?)`, s.table)
	for i, m := range msgs {
		if _, err := tx.ExecContext(ctx, insert, id, i, string(m.Role), m.Content, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Delete removes the session.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE session_id = ?`, s.table), id)
	return err
}

// List returns all session ids.
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT DISTINCT session_id FROM %s ORDER BY session_id`, s.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Prune removes sessions whose last save is older than olderThan.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan).UTC()
	stale := fmt.Sprintf(`SELECT session_id FROM %s GROUP BY session_id HAVING MAX(updated_at) < ?`, s.table)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM (`+stale+`)`, cutoff).Scan(&n); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE session_id IN (`, s.table)+stale+`)`, cutoff); err != nil {
		return 0, err
	}
	return n, tx.Commit()
}
