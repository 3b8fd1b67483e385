package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

type stubSummarizer struct {
	summary string
	err     error
	calls   int
	seen    []Entry
}

func (s *stubSummarizer) Summarize(_ context.Context, discarded []Entry) (string, error) {
	s.calls++
	s.seen = append([]Entry(nil), discarded...)
	if s.err != nil {
		return "", s.err
	}
	if s.summary != "" {
		return s.summary, nil
	}
	return fmt.Sprintf("%d entries condensed", len(discarded)), nil
}

func fill(t *testing.T, s *Session, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := s.AddContext(KindNote, fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i)); err != nil {
			t.Fatalf("AddContext() error = %v", err)
		}
	}
}

func TestAddContext_KeepsInsertionOrder(t *testing.T) {
	s := New("s1")
	fill(t, s, 3)

	entries := s.Entries()
	if len(entries) != 3 {
		t.Fatalf("len(Entries()) = %d, want 3", len(entries))
	}
	for i, e := range entries {
		if e.Key != fmt.Sprintf("k%d", i) {
			t.Errorf("entry %d key = %q, want k%d", i, e.Key, i)
		}
		if e.Seq != i+1 {
			t.Errorf("entry %d seq = %d, want %d", i, e.Seq, i+1)
		}
	}
}

func TestLatest_DuplicateKeysShadowByInsertion(t *testing.T) {
	s := New("s1")
	s.AddContext(KindNote, "target", "old")
	s.AddContext(KindNote, "other", "x")
	s.AddContext(KindFeedback, "target", "new")

	e, ok := s.Latest("target")
	if !ok {
		t.Fatal("Latest(target) not found")
	}
	if e.Value != "new" || e.Kind != KindFeedback {
		t.Errorf("Latest(target) = %+v, want the later feedback entry", e)
	}
}

func TestCompact_KeepsMostRecent(t *testing.T) {
	s := New("s1")
	fill(t, s, 10)
	sum := &stubSummarizer{summary: "older context condensed"}

	report, err := s.Compact(context.Background(), 4, sum)
	if err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	if !report.Compacted {
		t.Fatal("report.Compacted = false, want true")
	}
	if report.Discarded != 6 || report.Kept != 4 {
		t.Errorf("report discarded/kept = %d/%d, want 6/4", report.Discarded, report.Kept)
	}
	entries := s.Entries()
	if len(entries) != 4 {
		t.Fatalf("len(Entries()) = %d, want 4", len(entries))
	}
	if entries[0].Key != "k6" || entries[3].Key != "k9" {
		t.Errorf("retained window = %q..%q, want k6..k9", entries[0].Key, entries[3].Key)
	}
	if s.LastSummary() != "older context condensed" {
		t.Errorf("LastSummary() = %q", s.LastSummary())
	}
	if len(sum.seen) != 6 {
		t.Errorf("summarizer saw %d entries, want 6", len(sum.seen))
	}
}

func TestCompact_NoopWhenWithinBound(t *testing.T) {
	s := New("s1")
	fill(t, s, 3)
	sum := &stubSummarizer{}

	report, err := s.Compact(context.Background(), 5, sum)
	if err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	if report.Compacted {
		t.Error("report.Compacted = true, want false")
	}
	if report.Kept != 3 {
		t.Errorf("report.Kept = %d, want 3", report.Kept)
	}
	if sum.calls != 0 {
		t.Errorf("summarizer calls = %d, want 0", sum.calls)
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
}

func TestCompact_Idempotent(t *testing.T) {
	s := New("s1")
	fill(t, s, 8)
	sum := &stubSummarizer{}

	if _, err := s.Compact(context.Background(), 3, sum); err != nil {
		t.Fatalf("first Compact() error = %v", err)
	}
	report, err := s.Compact(context.Background(), 3, sum)
	if err != nil {
		t.Fatalf("second Compact() error = %v", err)
	}
	if report.Compacted {
		t.Error("second Compact() compacted again, want no-op")
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
	if sum.calls != 1 {
		t.Errorf("summarizer calls = %d, want 1", sum.calls)
	}
}

func TestCompact_SummarizerFailureIsLossy(t *testing.T) {
	s := New("s1")
	fill(t, s, 6)
	sum := &stubSummarizer{err: errors.New("model unavailable")}

	report, err := s.Compact(context.Background(), 2, sum)
	if err == nil {
		t.Fatal("Compact() error = nil, want summarizer failure surfaced")
	}
	if !report.Compacted {
		t.Error("report.Compacted = false, want true even on summarizer failure")
	}
	if !report.Lossy {
		t.Error("report.Lossy = false, want true")
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2 despite summarizer failure", s.Len())
	}
	if s.LastSummary() != "" {
		t.Errorf("LastSummary() = %q, want empty after lossy compaction", s.LastSummary())
	}
}

func TestCompact_ChainsPreviousSummary(t *testing.T) {
	s := New("s1")
	fill(t, s, 6)
	first := &stubSummarizer{summary: "round one"}
	if _, err := s.Compact(context.Background(), 2, first); err != nil {
		t.Fatalf("Compact() error = %v", err)
	}

	fill(t, s, 4)
	second := &stubSummarizer{summary: "round two"}
	if _, err := s.Compact(context.Background(), 2, second); err != nil {
		t.Fatalf("Compact() error = %v", err)
	}

	if len(second.seen) == 0 || second.seen[0].Key != "previous-summary" {
		t.Fatalf("second summarizer input starts with %v, want previous-summary entry", second.seen)
	}
	if second.seen[0].Value != "round one" {
		t.Errorf("chained summary = %q, want %q", second.seen[0].Value, "round one")
	}
}

func TestSnapshot_LeadsWithSummaryEntry(t *testing.T) {
	s := New("s1")
	fill(t, s, 5)
	if _, err := s.Compact(context.Background(), 2, &stubSummarizer{summary: "history digest"}); err != nil {
		t.Fatalf("Compact() error = %v", err)
	}

	snap := s.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len(Snapshot()) = %d, want 2 retained + 1 summary", len(snap))
	}
	if snap[0].Kind != KindSummary || snap[0].Value != "history digest" {
		t.Errorf("snapshot head = %+v, want synthetic summary entry", snap[0])
	}
	// The synthetic entry is not stored.
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestPutArtifact_SlotIsWriteOnce(t *testing.T) {
	s := New("s1")
	if err := s.PutArtifact(Artifact{Kind: "playbook", StageID: "playbook", Content: "a"}); err != nil {
		t.Fatalf("PutArtifact() error = %v", err)
	}
	err := s.PutArtifact(Artifact{Kind: "playbook", StageID: "rogue", Content: "b"})
	if !errors.Is(err, ErrArtifactExists) {
		t.Fatalf("second PutArtifact() error = %v, want ErrArtifactExists", err)
	}
	a, _ := s.Artifact("playbook")
	if a.Content != "a" {
		t.Errorf("artifact content = %q, want first write preserved", a.Content)
	}
}

func TestConcurrentStagesDoNotCorruptSession(t *testing.T) {
	s := New("s1")
	const perStage = 50

	var wg sync.WaitGroup
	for _, stage := range []string{"docs", "playbook"} {
		wg.Add(1)
		go func(stage string) {
			defer wg.Done()
			for i := 0; i < perStage; i++ {
				if err := s.AddContext(KindNote, stage, fmt.Sprintf("%s-%d", stage, i)); err != nil {
					t.Errorf("AddContext(%s) error = %v", stage, err)
					return
				}
			}
			if err := s.PutArtifact(Artifact{Kind: stage, StageID: stage, Content: strings.ToUpper(stage)}); err != nil {
				t.Errorf("PutArtifact(%s) error = %v", stage, err)
			}
		}(stage)
	}
	wg.Wait()

	if s.Len() != 2*perStage {
		t.Errorf("Len() = %d, want %d", s.Len(), 2*perStage)
	}
	seqs := make(map[int]bool)
	for _, e := range s.Entries() {
		if seqs[e.Seq] {
			t.Fatalf("duplicate seq %d", e.Seq)
		}
		seqs[e.Seq] = true
	}
	arts := s.Artifacts()
	if len(arts) != 2 {
		t.Fatalf("len(Artifacts()) = %d, want 2", len(arts))
	}
	if arts["docs"].Content != "DOCS" || arts["playbook"].Content != "PLAYBOOK" {
		t.Errorf("artifact slots = %+v, want each stage's own write", arts)
	}
}

func TestFinalize_BlocksMutation(t *testing.T) {
	s := New("s1")
	fill(t, s, 2)
	s.Finalize()

	if err := s.AddContext(KindNote, "late", "x"); !errors.Is(err, ErrFinalized) {
		t.Errorf("AddContext after Finalize error = %v, want ErrFinalized", err)
	}
	if err := s.PutArtifact(Artifact{Kind: "late"}); !errors.Is(err, ErrFinalized) {
		t.Errorf("PutArtifact after Finalize error = %v, want ErrFinalized", err)
	}
	if _, err := s.Compact(context.Background(), 1, &stubSummarizer{}); !errors.Is(err, ErrFinalized) {
		t.Errorf("Compact after Finalize error = %v, want ErrFinalized", err)
	}
}

func TestNewID_Generates(t *testing.T) {
	id, err := NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id == "" {
		t.Error("NewID() returned empty id")
	}
	other, err := NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id == other {
		t.Error("NewID() returned the same id twice")
	}
}
