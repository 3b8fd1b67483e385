package session

import (
	"context"
	"fmt"
	"time"
)

// CompactReport describes what one Compact call did.
type CompactReport struct {
	// Compacted is false when the entry count was already within bounds.
	Compacted bool
	// Discarded is the number of entries dropped by this call.
	Discarded int
	// Kept is the number of entries retained.
	Kept int
	// Summary is the summarizer's digest of the discarded entries.
	// Empty when the compaction was lossy.
	Summary string
	// Lossy is true when the discarded entries were dropped without a
	// summary, either because the summarizer failed or none was given.
	Lossy bool
}

// Compact trims the context to the keepRecent most recently inserted
// entries. Recency follows insertion order, not keys: older duplicates
// of a retained key are dropped like anything else.
//
// The discarded entries are condensed by the summarizer and the digest
// replaces them, surfacing through Snapshot as a leading KindSummary
// entry. When a prior compaction already left a summary, that summary
// is fed to the summarizer alongside the newly discarded entries so
// the chain stays unbroken.
//
// A summarizer failure never blocks compaction: the entries are
// discarded lossily, the report says so, and the error comes back for
// the caller to surface as a warning. The returned report still has
// Compacted=true in that case, and any earlier summary is kept since
// it remains accurate for the entries it covered.
//
// When the entry count is at or below keepRecent the call is a no-op,
// so repeated calls with the same bound change nothing.
func (s *Session) Compact(ctx context.Context, keepRecent int, summarizer Summarizer) (CompactReport, error) {
	if keepRecent < 0 {
		return CompactReport{}, ErrNegativeKeep
	}

	// Compact calls serialize against each other; entry appends only
	// need the inner lock and may interleave with the summarizer call.
	s.compactMu.Lock()
	defer s.compactMu.Unlock()

	s.mu.Lock()
	if s.finalized {
		s.mu.Unlock()
		return CompactReport{}, ErrFinalized
	}
	if len(s.entries) <= keepRecent {
		kept := len(s.entries)
		s.mu.Unlock()
		return CompactReport{Kept: kept}, nil
	}

	cut := len(s.entries) - keepRecent
	discarded := make([]Entry, 0, cut+1)
	if s.lastSummary != "" {
		// Roll the previous summary into this round's input so nothing
		// compacted earlier falls out of the chain.
		discarded = append(discarded, Entry{
			Kind:    KindSummary,
			Key:     "previous-summary",
			Value:   s.lastSummary,
			AddedAt: s.createdAt,
		})
	}
	discarded = append(discarded, s.entries[:cut]...)
	s.mu.Unlock()

	// The summarizer runs outside the entry lock: it may be a slow
	// external collaborator, and readers should not stall behind it.
	var summary string
	var sumErr error
	if summarizer == nil {
		sumErr = fmt.Errorf("no summarizer configured")
	} else {
		summary, sumErr = summarizer.Summarize(ctx, discarded)
	}

	s.mu.Lock()
	// Entries may have been appended while the summarizer ran; slicing
	// at the recorded cut keeps them.
	rest := make([]Entry, len(s.entries)-cut)
	copy(rest, s.entries[cut:])
	s.entries = rest
	s.compactions++
	s.discarded += cut
	report := CompactReport{
		Compacted: true,
		Discarded: cut,
		Kept:      len(rest),
	}
	if sumErr == nil {
		report.Summary = summary
		s.lastSummary = summary
	} else {
		report.Lossy = true
	}
	s.mu.Unlock()

	if sumErr != nil {
		return report, fmt.Errorf("summarize discarded context: %w", sumErr)
	}
	return report, nil
}

// compactDeadline bounds a summarizer call when the caller's context
// carries no deadline of its own.
const compactDeadline = 30 * time.Second

// CompactWithDeadline wraps Compact with a default deadline so a hung
// summarizer cannot stall the run between levels.
func (s *Session) CompactWithDeadline(ctx context.Context, keepRecent int, summarizer Summarizer) (CompactReport, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, compactDeadline)
		defer cancel()
	}
	return s.Compact(ctx, keepRecent, summarizer)
}
