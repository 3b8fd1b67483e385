// Package session holds the working state of one run: the ordered
// context entries handed to stage executors, and the artifacts the
// stages produce.
//
// A Session is safe for concurrent use. Stages of the same dependency
// level append context and write their artifact slots from separate
// goroutines; readers always see a consistent snapshot.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Kind tags a context entry with the variant it represents.
type Kind string

const (
	// KindRequest entries carry the parsed automation request.
	KindRequest Kind = "request"
	// KindArtifact entries carry artifact content shared as context.
	KindArtifact Kind = "artifact"
	// KindFeedback entries carry reviewer feedback for refinement.
	KindFeedback Kind = "feedback"
	// KindSummary entries stand in for compacted-away history.
	KindSummary Kind = "summary"
	// KindNote entries carry engine annotations, such as prior-session
	// memory recalled at run start.
	KindNote Kind = "note"
)

// Entry is one tagged context item. Keys are not unique; when a single
// value is wanted for a key, the entry with the highest Seq wins.
type Entry struct {
	Kind    Kind      `json:"kind"`
	Key     string    `json:"key"`
	Value   string    `json:"value"`
	Seq     int       `json:"seq"`
	AddedAt time.Time `json:"added_at"`
}

// Artifact is a stage's finished product plus provenance.
type Artifact struct {
	Kind       string    `json:"kind"`
	StageID    string    `json:"stage_id"`
	Content    string    `json:"content"`
	Score      float64   `json:"score,omitempty"`
	Iterations int       `json:"iterations,omitempty"`
	Accepted   bool      `json:"accepted"`
	CreatedAt  time.Time `json:"created_at"`
}

// Summarizer condenses discarded context entries into a short summary.
// Implementations must tolerate cancellation via ctx.
type Summarizer interface {
	Summarize(ctx context.Context, discarded []Entry) (string, error)
}

var (
	// ErrFinalized indicates a mutation after Finalize.
	ErrFinalized = errors.New("session is finalized")

	// ErrArtifactExists indicates a second write to an artifact slot.
	// Each artifact kind has exactly one producing stage per run.
	ErrArtifactExists = errors.New("artifact slot already written")

	// ErrNegativeKeep indicates Compact was called with keepRecent < 0.
	ErrNegativeKeep = errors.New("keepRecent must not be negative")
)

// Session accumulates context and artifacts for one run.
type Session struct {
	mu        sync.RWMutex
	compactMu sync.Mutex

	id        string
	createdAt time.Time
	entries   []Entry
	artifacts map[string]Artifact
	seq       int

	compactions int
	discarded   int
	lastSummary string
	finalized   bool
}

// New creates a session with the given ID. The ID must be non-empty;
// use NewID when the caller has none.
func New(id string) *Session {
	return &Session{
		id:        id,
		createdAt: time.Now(),
		artifacts: make(map[string]Artifact),
	}
}

// NewID generates a fresh session ID.
func NewID() (string, error) {
	id, err := nanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return id, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// AddContext appends a tagged entry. Entries keep insertion order via
// a monotonic sequence number; duplicate keys are allowed.
func (s *Session) AddContext(kind Kind, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return ErrFinalized
	}
	s.seq++
	s.entries = append(s.entries, Entry{
		Kind:    kind,
		Key:     key,
		Value:   value,
		Seq:     s.seq,
		AddedAt: time.Now(),
	})
	return nil
}

// Len returns the number of stored context entries.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns a copy of the stored context entries in insertion
// order.
func (s *Session) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Snapshot returns the context view handed to stage executors. When
// earlier entries have been compacted away, a synthetic KindSummary
// entry standing in for them leads the snapshot. The synthetic entry
// is derived on read; it is not stored, so compaction accounting never
// counts it.
func (s *Session) Snapshot() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries)+1)
	if s.lastSummary != "" {
		out = append(out, Entry{
			Kind:    KindSummary,
			Key:     "compacted-context",
			Value:   s.lastSummary,
			AddedAt: s.createdAt,
		})
	}
	out = append(out, s.entries...)
	return out
}

// Latest returns the most recently inserted entry with the given key.
func (s *Session) Latest(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Key == key {
			return s.entries[i], true
		}
	}
	return Entry{}, false
}

// PutArtifact records a stage's product. Each kind is a write-once
// slot: only the first producing stage may fill it.
func (s *Session) PutArtifact(a Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return ErrFinalized
	}
	if _, ok := s.artifacts[a.Kind]; ok {
		return fmt.Errorf("%w: %q", ErrArtifactExists, a.Kind)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	s.artifacts[a.Kind] = a
	return nil
}

// Artifact returns the artifact stored under the given kind.
func (s *Session) Artifact(kind string) (Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[kind]
	return a, ok
}

// Artifacts returns a copy of the artifact map. Only kinds whose
// producing stage succeeded are present.
func (s *Session) Artifacts() map[string]Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Artifact, len(s.artifacts))
	for k, v := range s.artifacts {
		out[k] = v
	}
	return out
}

// RemoveArtifact drops a stored artifact. The engine uses it to keep
// partial products of a cancelled level out of the final set.
func (s *Session) RemoveArtifact(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.artifacts, kind)
}

// Finalize marks the session read-only. Calling it more than once is
// harmless.
func (s *Session) Finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = true
}

// Finalized reports whether Finalize has been called.
func (s *Session) Finalized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finalized
}

// Compactions returns how many effective compactions have run.
func (s *Session) Compactions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compactions
}

// DiscardedTotal returns how many entries compaction has dropped over
// the session's lifetime.
func (s *Session) DiscardedTotal() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.discarded
}

// LastSummary returns the summary standing in for compacted entries,
// or the empty string when nothing was compacted or summarization was
// skipped.
func (s *Session) LastSummary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSummary
}
