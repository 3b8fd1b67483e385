// Package memory is the durable cross-run memory bank. Every finished
// run appends one Summary per session; later runs read them back for
// recall, statistics, and similar-session retrieval.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Summary is the per-session record a run leaves behind.
type Summary struct {
	SessionID       string            `json:"session_id"`
	RequestName     string            `json:"request_name"`
	RequestDigest   string            `json:"request_digest"`
	RequestText     string            `json:"request_text,omitempty"`
	Outcome         string            `json:"outcome"`
	Score           float64           `json:"score"`
	Iterations      int               `json:"iterations"`
	Accepted        bool              `json:"accepted"`
	ArtifactDigests map[string]string `json:"artifact_digests,omitempty"`
	StageStates     map[string]string `json:"stage_states,omitempty"`
	TokensIn        int               `json:"tokens_in"`
	TokensOut       int               `json:"tokens_out"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
}

// Store persists summaries. Implementations must keep distinct session
// IDs independent so concurrent runs never interfere.
type Store interface {
	Load(ctx context.Context) ([]Summary, error)
	Append(ctx context.Context, sum Summary) error
	Close() error
}

var (
	// ErrAlreadyRecorded indicates a second Record for a session ID.
	// A run writes its summary at most once.
	ErrAlreadyRecorded = errors.New("session already recorded")

	// ErrEmptySessionID indicates a summary without a session ID.
	ErrEmptySessionID = errors.New("empty session id")
)

// Bank serves memory summaries from an in-memory map loaded at
// construction, writing new records through to its Store.
type Bank struct {
	mu        sync.RWMutex
	store     Store
	summaries map[string]Summary
}

// NewBank loads all persisted summaries through the store. The bank
// owns the store and closes it via Close.
func NewBank(ctx context.Context, store Store) (*Bank, error) {
	loaded, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load memory bank: %w", err)
	}
	summaries := make(map[string]Summary, len(loaded))
	for _, sum := range loaded {
		summaries[sum.SessionID] = sum
	}
	return &Bank{store: store, summaries: summaries}, nil
}

// Record appends a run summary. Each session ID is recorded at most
// once; a second Record returns ErrAlreadyRecorded.
//
// A store write failure does not evict the summary from the in-process
// map: the run already settled, so the summary stays readable and the
// error comes back for the caller to surface as a warning.
func (b *Bank) Record(ctx context.Context, sum Summary) error {
	if sum.SessionID == "" {
		return ErrEmptySessionID
	}

	b.mu.Lock()
	if _, ok := b.summaries[sum.SessionID]; ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrAlreadyRecorded, sum.SessionID)
	}
	b.summaries[sum.SessionID] = sum
	b.mu.Unlock()

	if err := b.store.Append(ctx, sum); err != nil {
		return fmt.Errorf("persist summary for %q: %w", sum.SessionID, err)
	}
	return nil
}

// Get returns the summary recorded under the session ID.
func (b *Bank) Get(sessionID string) (Summary, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sum, ok := b.summaries[sessionID]
	return sum, ok
}

// Len returns the number of recorded sessions.
func (b *Bank) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.summaries)
}

// Sessions returns all summaries, most recently finished first.
func (b *Bank) Sessions() []Summary {
	b.mu.RLock()
	out := make([]Summary, 0, len(b.summaries))
	for _, sum := range b.summaries {
		out = append(out, sum)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FinishedAt.Equal(out[j].FinishedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].FinishedAt.After(out[j].FinishedAt)
	})
	return out
}

// Close closes the underlying store.
func (b *Bank) Close() error {
	return b.store.Close()
}

// Digest returns a short stable fingerprint of content, used for
// request and artifact digests in summaries.
func Digest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}
