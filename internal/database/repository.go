package database

import (
	"context"
	"time"

	"github.com/kozaktomas/face-gate/internal/facematch"
)

// UserReader provides read-only access to registered users
type UserReader interface {
	// GetUser returns the user or an error matching apperr.ErrNotFound
	GetUser(ctx context.Context, id int64) (*User, error)
	// ListUsers returns all users ordered by ID, without embeddings
	ListUsers(ctx context.Context) ([]User, error)
	// ListEmbeddings returns the embedding of every user, ordered by ID
	ListEmbeddings(ctx context.Context) ([]facematch.Candidate, error)
	// CountUsers returns the number of registered users
	CountUsers(ctx context.Context) (int, error)
}

// UserWriter provides write access to users
type UserWriter interface {
	UserReader

	// CreateUser inserts the user and returns the assigned ID.
	// A duplicate email yields an error matching apperr.ErrEmailTaken.
	CreateUser(ctx context.Context, u *User) (int64, error)
	// UpdateUser applies the patch in a single statement.
	UpdateUser(ctx context.Context, id int64, patch UserPatch) error
	// DeleteUser removes the user row.
	DeleteUser(ctx context.Context, id int64) error
}

// HistoryWriter appends history entries
type HistoryWriter interface {
	AppendHistory(ctx context.Context, entry HistoryEntry) error
}

// HistoryReader reads and prunes history entries
type HistoryReader interface {
	// ListHistory returns at most q.Limit entries ordered by created_at DESC, id DESC
	ListHistory(ctx context.Context, q HistoryQuery) ([]HistoryEntry, error)
	// PurgeHistory deletes entries created before the given time and returns the count
	PurgeHistory(ctx context.Context, before time.Time) (int64, error)
}

// HistoryStore combines history reads and writes
type HistoryStore interface {
	HistoryWriter
	HistoryReader
}

// Store is a complete relational backend
type Store interface {
	UserWriter
	HistoryStore
	// Migrate applies pending schema migrations
	Migrate(ctx context.Context) error
	// Close releases the connection pool
	Close() error
}
