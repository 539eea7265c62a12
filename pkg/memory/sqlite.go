// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/errors"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func sanitizeTableName(table string) (string, error) {
	if table == "" {
		return "", fmt.Errorf("table name is required")
	}
	if !tableNamePattern.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// searchCandidates bounds how many keyword matches are ranked per search.
const searchCandidates = 200

// SQLiteStore implements Store on SQLite with keyword search.
type SQLiteStore struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// SQLiteConfig configures the SQLite memory store.
type SQLiteConfig struct {
	// DB is the database connection. Required.
	DB *sql.DB
	// TableName is the table to use. Default: "memories".
	TableName string
}

// NewSQLiteStore creates a new SQLite memory store.
// Call Initialize() to create the table if it doesn't exist.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.DB == nil {
		return nil, errors.New(errors.CodeInvalidInput, "database connection is required", nil)
	}
	table := cfg.TableName
	if table == "" {
		table = "memories"
	}
	table, err := sanitizeTableName(table)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "bad memory table", err)
	}
	return &SQLiteStore{db: cfg.DB, table: table, now: time.Now}, nil
}

// Initialize creates the memory table if it doesn't exist.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_%s_user ON %s (user_id);
		CREATE INDEX IF NOT EXISTS idx_%s_created ON %s (created_at);
	`, s.table, s.table, s.table, s.table, s.table)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return errors.New(errors.CodeMemoryError, "create memory table", err)
	}
	return nil
}

// Store inserts msgs in one transaction.
func (s *SQLiteStore) Store(ctx context.Context, msgs []core.Message, userID string) error {
	entries := entriesFrom(msgs, userID, s.now().UTC())
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(errors.CodeMemoryError, "begin memory write", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`INSERT INTO %s (id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`, s.table)
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, query, uuid.NewString(), e.UserID, string(e.Role), e.Text, e.CreatedAt); err != nil {
			return errors.New(errors.CodeMemoryError, "insert memory", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.New(errors.CodeMemoryError, "commit memory write", err)
	}
	return nil
}

// Search matches query keywords with LIKE and ranks the newest candidates.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]string, error) {
	terms := keywords(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	clauses := make([]string, len(terms))
	args := make([]any, 0, len(terms)+1)
	for i, t := range terms {
		clauses[i] = "lower(content) LIKE ?"
		args = append(args, "%"+t+"%")
	}
	args = append(args, searchCandidates)

	q := fmt.Sprintf(`
		SELECT content FROM %s
		WHERE %s
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, s.table, strings.Join(clauses, " OR "))

	candidates, err := s.queryTexts(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return rank(terms, candidates, limit), nil
}

// Recent returns the last n texts, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT content FROM %s ORDER BY created_at DESC, rowid DESC LIMIT ?`, s.table)
	return s.queryTexts(ctx, q, n)
}

func (s *SQLiteStore) queryTexts(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.New(errors.CodeMemoryError, "query memories", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, errors.New(errors.CodeMemoryError, "scan memory", err)
		}
		out = append(out, text)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeMemoryError, "iterate memories", err)
	}
	return out, nil
}

// Check implements core.HealthChecker by pinging the database.
func (s *SQLiteStore) Check(ctx context.Context) core.HealthResult {
	res := core.HealthResult{Status: core.HealthHealthy, Component: "memory", LastCheck: time.Now()}
	if err := s.db.PingContext(ctx); err != nil {
		res.Status = core.HealthUnhealthy
		res.Message = err.Error()
	}
	return res
}
