// Package store persists session snapshots so a practice conversation can
// survive a page reload or server restart.
package store

import (
	"context"
	"errors"

	"github.com/verbly-ai/verbly/internal/conversation"
)

// ErrNotFound is returned when no snapshot exists for the requested session.
var ErrNotFound = errors.New("session not found")

// SnapshotStore persists and recalls session snapshots. Implementations must
// be safe for concurrent use.
type SnapshotStore interface {
	// Save writes the snapshot, replacing any previous one with the same ID.
	Save(ctx context.Context, snap conversation.Snapshot) error

	// Load returns the snapshot for id, or [ErrNotFound].
	Load(ctx context.Context, id string) (conversation.Snapshot, error)

	// List returns the most recently updated snapshots, newest first,
	// capped at limit (unbounded when limit <= 0).
	List(ctx context.Context, limit int) ([]conversation.Snapshot, error)

	// Delete removes the snapshot for id. Deleting a missing snapshot is a
	// no-op.
	Delete(ctx context.Context, id string) error
}
