package memory

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is an in-process Store for tests and ephemeral runs.
type MemStore struct {
	mu        sync.Mutex
	summaries []Summary
	byID      map[string]bool

	// FailAppend forces Append to fail, for persistence-warning tests.
	FailAppend error
}

// NewMemStore returns an empty in-process store.
func NewMemStore() *MemStore {
	return &MemStore{byID: make(map[string]bool)}
}

// Load returns the appended summaries in append order.
func (m *MemStore) Load(_ context.Context) ([]Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Summary, len(m.summaries))
	copy(out, m.summaries)
	return out, nil
}

// Append stores one summary, rejecting duplicate session IDs the same
// way the SQLite primary key does.
func (m *MemStore) Append(_ context.Context, sum Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAppend != nil {
		return m.FailAppend
	}
	if m.byID[sum.SessionID] {
		return fmt.Errorf("duplicate session %q", sum.SessionID)
	}
	m.byID[sum.SessionID] = true
	m.summaries = append(m.summaries, sum)
	return nil
}

// Close is a no-op.
func (m *MemStore) Close() error { return nil }
