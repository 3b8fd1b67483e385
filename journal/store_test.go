package journal

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(StoreConfig{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return store
}

func TestFileStore_StartRun(t *testing.T) {
	store := newTestStore(t)

	err := store.StartRun("run-1", RunMetadata{SessionID: "s1", Request: "deploy-nginx"})
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	// Metadata is written immediately so crashed runs leave a trace.
	meta, err := store.LoadMetadata("run-1")
	if err != nil {
		t.Fatalf("LoadMetadata failed: %v", err)
	}
	if meta.Status != StatusRunning {
		t.Errorf("Status = %s, want running", meta.Status)
	}
	if meta.SessionID != "s1" {
		t.Errorf("SessionID = %s, want s1", meta.SessionID)
	}
	if meta.StartedAt.IsZero() {
		t.Error("StartedAt should be set")
	}

	if _, err := os.Stat(filepath.Join(store.BaseDir(), "runs", "run-1", "metadata.json")); err != nil {
		t.Errorf("metadata.json missing: %v", err)
	}
}

func TestFileStore_StartRun_Duplicate(t *testing.T) {
	store := newTestStore(t)

	if err := store.StartRun("run-1", RunMetadata{}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if err := store.StartRun("run-1", RunMetadata{}); !errors.Is(err, ErrRunAlreadyExists) {
		t.Errorf("duplicate active StartRun err = %v, want ErrRunAlreadyExists", err)
	}

	if err := store.EndRun("run-1", StatusComplete); err != nil {
		t.Fatalf("EndRun failed: %v", err)
	}
	if err := store.StartRun("run-1", RunMetadata{}); !errors.Is(err, ErrRunAlreadyExists) {
		t.Errorf("on-disk duplicate StartRun err = %v, want ErrRunAlreadyExists", err)
	}
}

func TestFileStore_Record(t *testing.T) {
	store := newTestStore(t)

	if err := store.Record("run-1", Entry{Message: "x"}); !errors.Is(err, ErrRunNotStarted) {
		t.Errorf("Record before start err = %v, want ErrRunNotStarted", err)
	}

	if err := store.StartRun("run-1", RunMetadata{}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	entries := []Entry{
		{Type: "stage_started", Stage: "playbook", Message: "stage started"},
		{Type: "stage_completed", Stage: "playbook", Message: "stage completed", TokensIn: 100, TokensOut: 40},
		{Type: "run_completed", Message: "run completed", TokensIn: 50, TokensOut: 10},
	}
	for _, e := range entries {
		if err := store.Record("run-1", e); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	journal, err := store.Load("run-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(journal.Entries) != 3 {
		t.Fatalf("Entries = %d, want 3", len(journal.Entries))
	}
	for i, e := range journal.Entries {
		if e.ID != i+1 {
			t.Errorf("entry %d ID = %d, want %d", i, e.ID, i+1)
		}
		if e.Timestamp.IsZero() {
			t.Errorf("entry %d should have a timestamp", i)
		}
	}
	if journal.Metadata.EntryCount != 3 {
		t.Errorf("EntryCount = %d, want 3", journal.Metadata.EntryCount)
	}
	if journal.Metadata.TotalTokensIn != 150 || journal.Metadata.TotalTokensOut != 50 {
		t.Errorf("tokens = %d/%d, want 150/50",
			journal.Metadata.TotalTokensIn, journal.Metadata.TotalTokensOut)
	}
}

func TestFileStore_Load_ReturnsCopy(t *testing.T) {
	store := newTestStore(t)

	if err := store.StartRun("run-1", RunMetadata{}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if err := store.Record("run-1", Entry{Message: "original"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	copy1, err := store.Load("run-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	copy1.Entries[0].Message = "mutated"

	copy2, err := store.Load("run-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if copy2.Entries[0].Message != "original" {
		t.Error("Load should return an isolated copy of the active journal")
	}
}

func TestFileStore_EndRun(t *testing.T) {
	store := newTestStore(t)

	if err := store.EndRun("run-1", StatusComplete); !errors.Is(err, ErrRunNotStarted) {
		t.Errorf("EndRun before start err = %v, want ErrRunNotStarted", err)
	}

	if err := store.StartRun("run-1", RunMetadata{SessionID: "s1"}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if err := store.Record("run-1", Entry{Type: "run_started", Message: "go"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := store.EndRun("run-1", StatusDegraded); err != nil {
		t.Fatalf("EndRun failed: %v", err)
	}

	if len(store.ListActive()) != 0 {
		t.Error("EndRun should clear the active set")
	}
	if _, err := os.Stat(filepath.Join(store.BaseDir(), "runs", "run-1", "journal.json")); err != nil {
		t.Errorf("journal.json missing: %v", err)
	}

	// Loads come from disk now.
	journal, err := store.Load("run-1")
	if err != nil {
		t.Fatalf("Load after EndRun failed: %v", err)
	}
	if journal.Metadata.Status != StatusDegraded {
		t.Errorf("Status = %s, want degraded", journal.Metadata.Status)
	}
	if journal.Metadata.EndedAt.IsZero() {
		t.Error("EndedAt should be set")
	}
	if len(journal.Entries) != 1 {
		t.Errorf("Entries = %d, want 1", len(journal.Entries))
	}
}

func TestFileStore_EndRunWithError(t *testing.T) {
	store := newTestStore(t)

	if err := store.StartRun("run-1", RunMetadata{}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if err := store.EndRunWithError("run-1", errors.New("stage playbook: attempt 2: exhausted")); err != nil {
		t.Fatalf("EndRunWithError failed: %v", err)
	}

	meta, err := store.LoadMetadata("run-1")
	if err != nil {
		t.Fatalf("LoadMetadata failed: %v", err)
	}
	if meta.Status != StatusFailed {
		t.Errorf("Status = %s, want failed", meta.Status)
	}
	if !strings.Contains(meta.Error, "stage playbook") {
		t.Errorf("Error = %q, want the run error recorded", meta.Error)
	}
}

func TestFileStore_Load_NotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Load("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Load err = %v, want ErrRunNotFound", err)
	}
	if _, err := store.LoadMetadata("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("LoadMetadata err = %v, want ErrRunNotFound", err)
	}
}

func TestFileStore_List(t *testing.T) {
	store := newTestStore(t)

	runs := []struct {
		id      string
		session string
		status  Status
	}{
		{"run-a", "s1", StatusComplete},
		{"run-b", "s2", StatusFailed},
		{"run-c", "s1", StatusComplete},
	}
	for _, r := range runs {
		if err := store.StartRun(r.id, RunMetadata{SessionID: r.session}); err != nil {
			t.Fatalf("StartRun %s failed: %v", r.id, err)
		}
		if err := store.EndRun(r.id, r.status); err != nil {
			t.Fatalf("EndRun %s failed: %v", r.id, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	all, err := store.List(ListFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List = %d runs, want 3", len(all))
	}
	// Newest first.
	if all[0].RunID != "run-c" || all[2].RunID != "run-a" {
		t.Errorf("List order = [%s %s %s], want newest first", all[0].RunID, all[1].RunID, all[2].RunID)
	}

	bySession, err := store.List(ListFilter{SessionID: "s1"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(bySession) != 2 {
		t.Errorf("session filter = %d runs, want 2", len(bySession))
	}

	byStatus, err := store.List(ListFilter{Status: StatusFailed})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].RunID != "run-b" {
		t.Errorf("status filter = %v, want run-b", byStatus)
	}

	limited, err := store.List(ListFilter{Limit: 1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(limited) != 1 || limited[0].RunID != "run-c" {
		t.Errorf("limit filter = %v, want the newest run", limited)
	}
}

func TestFileStore_Delete(t *testing.T) {
	store := newTestStore(t)

	if err := store.StartRun("run-1", RunMetadata{}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if err := store.EndRun("run-1", StatusComplete); err != nil {
		t.Fatalf("EndRun failed: %v", err)
	}

	if err := store.Delete("run-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Load("run-1"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Load after Delete err = %v, want ErrRunNotFound", err)
	}

	// Deleting a missing run is not an error.
	if err := store.Delete("run-1"); err != nil {
		t.Errorf("repeat Delete err = %v", err)
	}
}

// ============================================================================
// Statistics
// ============================================================================

func TestFileStore_Stats(t *testing.T) {
	store := newTestStore(t)

	seed := []struct {
		id        string
		status    Status
		tokensIn  int
		tokensOut int
	}{
		{"run-a", StatusComplete, 100, 40},
		{"run-b", StatusComplete, 200, 60},
		{"run-c", StatusFailed, 60, 20},
	}
	for _, r := range seed {
		if err := store.StartRun(r.id, RunMetadata{}); err != nil {
			t.Fatalf("StartRun failed: %v", err)
		}
		if err := store.Record(r.id, Entry{Message: "x", TokensIn: r.tokensIn, TokensOut: r.tokensOut}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if err := store.EndRun(r.id, r.status); err != nil {
			t.Fatalf("EndRun failed: %v", err)
		}
	}

	stats, err := store.Stats(ListFilter{})
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	if stats.TotalRuns != 3 {
		t.Errorf("TotalRuns = %d, want 3", stats.TotalRuns)
	}
	if stats.CompleteRuns != 2 || stats.FailedRuns != 1 {
		t.Errorf("counts = %d complete / %d failed, want 2/1", stats.CompleteRuns, stats.FailedRuns)
	}
	if stats.TotalTokensIn != 360 || stats.TotalTokensOut != 120 {
		t.Errorf("tokens = %d/%d, want 360/120", stats.TotalTokensIn, stats.TotalTokensOut)
	}
	if stats.AvgTokensIn != 120 || stats.AvgTokensOut != 40 {
		t.Errorf("averages = %d/%d, want 120/40", stats.AvgTokensIn, stats.AvgTokensOut)
	}
}

func TestWriteMetaTable(t *testing.T) {
	var b strings.Builder

	if err := WriteMetaTable(&b, nil); err != nil {
		t.Fatalf("WriteMetaTable failed: %v", err)
	}
	if !strings.Contains(b.String(), "No runs found.") {
		t.Errorf("empty listing = %q", b.String())
	}

	b.Reset()
	metas := []Meta{
		{RunID: "2026-02-11-deploy-a1b2", SessionID: "s1", Status: StatusComplete, StartedAt: time.Now(), TotalTokensIn: 100, TotalTokensOut: 40},
		{RunID: "2026-02-11-deploy-c3d4", SessionID: "s2", Status: StatusFailed, StartedAt: time.Now()},
	}
	if err := WriteMetaTable(&b, metas); err != nil {
		t.Fatalf("WriteMetaTable failed: %v", err)
	}

	out := b.String()
	for _, want := range []string{"RUN ID", "2026-02-11-deploy-a1b2", "100/40", "Total: 2 runs"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestWriteStats(t *testing.T) {
	var b strings.Builder
	stats := &Statistics{TotalRuns: 3, CompleteRuns: 2, FailedRuns: 1, TotalTokensIn: 360, TotalTokensOut: 120}

	if err := WriteStats(&b, stats); err != nil {
		t.Fatalf("WriteStats failed: %v", err)
	}

	out := b.String()
	for _, want := range []string{"Total Runs:      3", "Complete:      2", "360 in / 120 out"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats missing %q:\n%s", want, out)
		}
	}
}
