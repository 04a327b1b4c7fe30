package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps the status reader from blocking the recording writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Initialize creates the database schema.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			destination TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			completed_at DATETIME NOT NULL,
			result TEXT NOT NULL,
			folders_done INTEGER DEFAULT 0,
			folders_total INTEGER DEFAULT 0,
			folders_empty INTEGER DEFAULT 0,
			files INTEGER DEFAULT 0,
			bytes INTEGER DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_dest_time ON sessions(destination, started_at);
		CREATE INDEX IF NOT EXISTS idx_sessions_time ON sessions(started_at);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordSession stores one finished session. The session ID is assigned
// here when the caller left it empty.
func (s *SQLiteStore) RecordSession(ctx context.Context, sess Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions
		 (session_id, destination, started_at, completed_at, result,
		  folders_done, folders_total, folders_empty, files, bytes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Destination, sess.StartedAt.UTC(), sess.CompletedAt.UTC(), sess.Result,
		sess.FoldersDone, sess.FoldersTotal, sess.FoldersEmpty, sess.Files, sess.Bytes,
	)
	if err != nil {
		return fmt.Errorf("inserting session record: %w", err)
	}
	return nil
}

// QuerySessions retrieves sessions matching the given options.
func (s *SQLiteStore) QuerySessions(ctx context.Context, opts QueryOptions) ([]Session, error) {
	query := `SELECT session_id, destination, started_at, completed_at, result,
	                 folders_done, folders_total, folders_empty, files, bytes
	          FROM sessions WHERE 1=1`
	args := []interface{}{}

	if opts.Destination != "" {
		query += " AND destination = ?"
		args = append(args, opts.Destination)
	}

	if opts.Result != "" {
		query += " AND result = ?"
		args = append(args, opts.Result)
	}

	if opts.Since != nil {
		query += " AND started_at >= ?"
		args = append(args, opts.Since.UTC())
	}

	if opts.Until != nil {
		query += " AND started_at <= ?"
		args = append(args, opts.Until.UTC())
	}

	query += " ORDER BY started_at DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Destination, &sess.StartedAt, &sess.CompletedAt, &sess.Result,
			&sess.FoldersDone, &sess.FoldersTotal, &sess.FoldersEmpty, &sess.Files, &sess.Bytes); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	return sessions, nil
}

// LatestSession retrieves the most recent session for a destination.
func (s *SQLiteStore) LatestSession(ctx context.Context, destination string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, destination, started_at, completed_at, result,
		        folders_done, folders_total, folders_empty, files, bytes
		 FROM sessions
		 WHERE destination = ?
		 ORDER BY started_at DESC
		 LIMIT 1`,
		destination,
	).Scan(&sess.ID, &sess.Destination, &sess.StartedAt, &sess.CompletedAt, &sess.Result,
		&sess.FoldersDone, &sess.FoldersTotal, &sess.FoldersEmpty, &sess.Files, &sess.Bytes)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest session: %w", err)
	}

	return &sess, nil
}
