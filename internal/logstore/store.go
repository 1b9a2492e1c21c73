// Package logstore is the reference LogSink implementation: an
// append-only SQLite table holding terminal RequestLog records, plus a
// narrow List query used for audit. Same driver and pooling approach
// as the teacher's own database layer (pure-Go, no cgo).
package logstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/routing-gateway/internal/models"
)

// Store is a SQLite-backed LogSink.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path, applies
// WAL + busy_timeout + foreign_keys pragmas the way the teacher's
// database.New does, and ensures the request_logs table exists.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open log db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping log db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS request_logs (
			id TEXT PRIMARY KEY,
			received_at TEXT NOT NULL,
			tier TEXT NOT NULL,
			chosen_model TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			status TEXT NOT NULL,
			retry_count INTEGER NOT NULL,
			request_body_json TEXT,
			response_body_json_or_text TEXT,
			trace_json TEXT,
			stack_trace TEXT,
			prompt_tokens INTEGER,
			completion_tokens INTEGER,
			token_source TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_request_logs_received_at ON request_logs(received_at);
		CREATE INDEX IF NOT EXISTS idx_request_logs_model ON request_logs(chosen_model);
	`)
	if err != nil {
		return fmt.Errorf("migrate request_logs: %w", err)
	}
	return nil
}

// Close closes the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// Append inserts a terminal RequestLog. Matches the LogSink contract:
// append-only, no update/delete path is exposed to the routing engine.
func (s *Store) Append(ctx context.Context, rl models.RequestLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_logs (
			id, received_at, tier, chosen_model, duration_ms, status, retry_count,
			request_body_json, response_body_json_or_text, trace_json, stack_trace,
			prompt_tokens, completion_tokens, token_source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rl.ID, rl.ReceivedAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), rl.Tier, rl.ChosenModel,
		rl.DurationMS, rl.Status, rl.RetryCount,
		rl.RequestBodyJSON, rl.ResponseBodyJSON, rl.TraceJSON, rl.StackTrace,
		rl.PromptTokens, rl.CompletionTokens, rl.TokenSource,
	)
	if err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}
	return nil
}

// List returns up to limit most-recent records, for the audit/export
// surface an external collaborator may build on top of this store.
func (s *Store) List(ctx context.Context, limit int) ([]models.RequestLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, received_at, tier, chosen_model, duration_ms, status, retry_count,
			request_body_json, response_body_json_or_text, trace_json, stack_trace,
			prompt_tokens, completion_tokens, token_source
		FROM request_logs ORDER BY received_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query request logs: %w", err)
	}
	defer rows.Close()

	var out []models.RequestLog
	for rows.Next() {
		var rl models.RequestLog
		var receivedAt string
		if err := rows.Scan(&rl.ID, &receivedAt, &rl.Tier, &rl.ChosenModel, &rl.DurationMS,
			&rl.Status, &rl.RetryCount, &rl.RequestBodyJSON, &rl.ResponseBodyJSON,
			&rl.TraceJSON, &rl.StackTrace, &rl.PromptTokens, &rl.CompletionTokens, &rl.TokenSource); err != nil {
			return nil, fmt.Errorf("scan request log: %w", err)
		}
		rl.ReceivedAt, _ = time.Parse(time.RFC3339Nano, receivedAt)
		out = append(out, rl)
	}
	return out, rows.Err()
}
