package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore archives records into a local SQLite database, one row per
// finished execution, for ad-hoc querying.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs
// the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id        TEXT NOT NULL,
			prompt            TEXT NOT NULL,
			exit_code         INTEGER NOT NULL,
			status            TEXT NOT NULL,
			execution_time_ms INTEGER NOT NULL,
			stdout            TEXT NOT NULL DEFAULT '[]',
			stderr            TEXT NOT NULL DEFAULT '[]',
			metadata          TEXT NOT NULL DEFAULT '{}',
			created_at        TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	stdoutJSON, err := json.Marshal(rec.Stdout)
	if err != nil {
		return fmt.Errorf("marshal stdout: %w", err)
	}
	stderrJSON, err := json.Marshal(rec.Stderr)
	if err != nil {
		return fmt.Errorf("marshal stderr: %w", err)
	}
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, prompt, exit_code, status, execution_time_ms, stdout, stderr, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Prompt, rec.ExitCode, rec.Status, rec.ExecutionTimeMS,
		string(stdoutJSON), string(stderrJSON), string(metaJSON),
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Get returns the most recent record for a session id, or sql.ErrNoRows.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, prompt, exit_code, status, execution_time_ms, stdout, stderr, metadata, created_at
		 FROM sessions WHERE session_id = ? ORDER BY created_at DESC LIMIT 1`, sessionID)

	var rec Record
	var stdoutJSON, stderrJSON, metaJSON, createdAt string
	err := row.Scan(&rec.SessionID, &rec.Prompt, &rec.ExitCode, &rec.Status, &rec.ExecutionTimeMS,
		&stdoutJSON, &stderrJSON, &metaJSON, &createdAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stdoutJSON), &rec.Stdout); err != nil {
		return nil, fmt.Errorf("unmarshal stdout: %w", err)
	}
	if err := json.Unmarshal([]byte(stderrJSON), &rec.Stderr); err != nil {
		return nil, fmt.Errorf("unmarshal stderr: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	rec.Timestamp, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &rec, nil
}
