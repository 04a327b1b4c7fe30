// Package history persists finished upload sessions for the operator
// surface: what ran, when, against which destination, and how far it got.
package history

import (
	"context"
	"time"
)

// Session is one finished upload session.
type Session struct {
	ID           string
	Destination  string
	StartedAt    time.Time
	CompletedAt  time.Time
	Result       string
	FoldersDone  int
	FoldersTotal int
	FoldersEmpty int
	Files        int
	Bytes        int64
}

// QueryOptions filters session queries.
type QueryOptions struct {
	Destination string
	Result      string
	Since       *time.Time
	Until       *time.Time
	Limit       int
}

// Store defines the interface for persisting session history.
type Store interface {
	// Initialize prepares the store (creates tables, etc.).
	Initialize(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error

	// RecordSession stores one finished session.
	RecordSession(ctx context.Context, s Session) error

	// QuerySessions retrieves sessions matching the given options,
	// newest first.
	QuerySessions(ctx context.Context, opts QueryOptions) ([]Session, error)

	// LatestSession retrieves the most recent session for a destination,
	// or nil when none exists.
	LatestSession(ctx context.Context, destination string) (*Session, error)
}
