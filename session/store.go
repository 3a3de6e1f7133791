package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Store persists session Metadata to a local SQLite file. It serializes
// with a single connection the way the teacher's sqlite stores do, since
// a session's own reply loop is the only writer at any moment.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite-backed session store at
// dbPath and ensures its schema exists.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		working_dir TEXT NOT NULL,
		description TEXT,
		message_count INTEGER NOT NULL DEFAULT 0,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		accumulated_input INTEGER NOT NULL DEFAULT 0,
		accumulated_output INTEGER NOT NULL DEFAULT 0,
		accumulated_total INTEGER NOT NULL DEFAULT 0,
		schedule_id TEXT,
		recipe TEXT,
		extension_data TEXT,
		todo_content TEXT,
		parent_session_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("session: create table: %w", err)
	}
	return nil
}

// Put inserts or replaces m.
func (s *Store) Put(ctx context.Context, m Metadata) error {
	extJSON, err := json.Marshal(m.ExtensionData)
	if err != nil {
		return fmt.Errorf("session: marshal extension_data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (
			id, working_dir, description, message_count,
			input_tokens, output_tokens, total_tokens,
			accumulated_input, accumulated_output, accumulated_total,
			schedule_id, recipe, extension_data, todo_content, parent_session_id,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.WorkingDir, m.Description, m.MessageCount,
		m.InputTokens, m.OutputTokens, m.TotalTokens,
		m.AccumulatedInput, m.AccumulatedOutput, m.AccumulatedTotal,
		m.ScheduleID, m.Recipe, string(extJSON), m.TodoContent, m.ParentSessionID,
		m.CreatedAt.Unix(), m.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("session: put %q: %w", m.ID, err)
	}
	return nil
}

// ErrNotFound is returned by Get and Remove for an unknown session id.
var ErrNotFound = fmt.Errorf("session: not found")

// Get returns the persisted Metadata for id.
func (s *Store) Get(ctx context.Context, id string) (Metadata, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		id, working_dir, description, message_count,
		input_tokens, output_tokens, total_tokens,
		accumulated_input, accumulated_output, accumulated_total,
		schedule_id, recipe, extension_data, todo_content, parent_session_id,
		created_at, updated_at
	FROM sessions WHERE id = ?`, id)

	var m Metadata
	var scheduleID, recipe, extJSON, todo, parentID sql.NullString
	var createdAt, updatedAt int64
	err := row.Scan(
		&m.ID, &m.WorkingDir, &m.Description, &m.MessageCount,
		&m.InputTokens, &m.OutputTokens, &m.TotalTokens,
		&m.AccumulatedInput, &m.AccumulatedOutput, &m.AccumulatedTotal,
		&scheduleID, &recipe, &extJSON, &todo, &parentID,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return Metadata{}, ErrNotFound
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("session: get %q: %w", id, err)
	}
	m.ScheduleID = scheduleID.String
	m.Recipe = recipe.String
	m.TodoContent = todo.String
	m.ParentSessionID = parentID.String
	m.CreatedAt = time.Unix(createdAt, 0)
	m.UpdatedAt = time.Unix(updatedAt, 0)
	m.ExtensionData = make(map[string]any)
	if extJSON.Valid && extJSON.String != "" {
		if err := json.Unmarshal([]byte(extJSON.String), &m.ExtensionData); err != nil {
			return Metadata{}, fmt.Errorf("session: unmarshal extension_data for %q: %w", id, err)
		}
	}
	return m, nil
}

// Remove deletes the session's persisted metadata.
func (s *Store) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("session: remove %q: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every session id currently persisted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("session: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }
