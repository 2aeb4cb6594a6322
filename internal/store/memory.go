package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/verbly-ai/verbly/internal/conversation"
)

// MemoryStore is an in-process [SnapshotStore]. It backs deployments without
// a configured database and doubles as the test store. Snapshots do not
// survive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]conversation.Snapshot
}

var _ SnapshotStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]conversation.Snapshot)}
}

// Save implements [SnapshotStore].
func (m *MemoryStore) Save(_ context.Context, snap conversation.Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("saving snapshot: empty session id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.ID] = snap
	return nil
}

// Load implements [SnapshotStore].
func (m *MemoryStore) Load(_ context.Context, id string) (conversation.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[id]
	if !ok {
		return conversation.Snapshot{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return snap, nil
}

// List implements [SnapshotStore].
func (m *MemoryStore) List(_ context.Context, limit int) ([]conversation.Snapshot, error) {
	m.mu.RLock()
	out := make([]conversation.Snapshot, 0, len(m.snaps))
	for _, snap := range m.snaps {
		out = append(out, snap)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete implements [SnapshotStore].
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, id)
	return nil
}
