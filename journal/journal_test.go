package journal

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/randalmurphal/autoflow/notify"
)

func TestNewRunID(t *testing.T) {
	id, err := NewRunID("Deploy Nginx!")
	if err != nil {
		t.Fatalf("NewRunID failed: %v", err)
	}

	pattern := regexp.MustCompile(`^\d{4}-\d{2}-\d{2}-deploy-nginx-[0-9a-f]{4}$`)
	if !pattern.MatchString(id) {
		t.Errorf("NewRunID = %q, want date-slug-suffix shape", id)
	}
}

func TestNewRunID_EmptyName(t *testing.T) {
	id, err := NewRunID("  !!  ")
	if err != nil {
		t.Fatalf("NewRunID failed: %v", err)
	}

	pattern := regexp.MustCompile(`^\d{4}-\d{2}-\d{2}-run-[0-9a-f]{4}$`)
	if !pattern.MatchString(id) {
		t.Errorf("NewRunID = %q, want the run fallback slug", id)
	}
}

func TestNewRunID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := NewRunID("deploy")
		if err != nil {
			t.Fatalf("NewRunID failed: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate run ID after %d draws: %s", i, id)
		}
		seen[id] = true
	}
}

// ============================================================================
// Recorder
// ============================================================================

func TestRecorder_Notify(t *testing.T) {
	store := newTestStore(t)
	if err := store.StartRun("run-1", RunMetadata{SessionID: "s1"}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	recorder := NewRecorder(store)

	events := []notify.Event{
		{
			Type:      notify.EventStageStarted,
			RunID:     "run-1",
			SessionID: "s1",
			Stage:     "playbook",
			Message:   "stage started",
			Severity:  notify.SeverityInfo,
			Timestamp: time.Now(),
		},
		{
			Type:      notify.EventStageFailed,
			RunID:     "run-1",
			SessionID: "s1",
			Stage:     "docs",
			Message:   "stage failed",
			Severity:  notify.SeverityWarning,
			Timestamp: time.Now(),
			Metadata:  map[string]any{"attempt": 1},
		},
	}
	for _, e := range events {
		if err := recorder.Notify(context.Background(), e); err != nil {
			t.Fatalf("Notify failed: %v", err)
		}
	}

	journal, err := store.Load("run-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(journal.Entries) != 2 {
		t.Fatalf("Entries = %d, want 2", len(journal.Entries))
	}
	if journal.Entries[0].Type != "stage_started" || journal.Entries[0].Stage != "playbook" {
		t.Errorf("entry 0 = %+v", journal.Entries[0])
	}
	if journal.Entries[1].Severity != notify.SeverityWarning {
		t.Errorf("entry 1 severity = %q, want warning", journal.Entries[1].Severity)
	}
}

func TestRecorder_DropsEventsWithoutRunID(t *testing.T) {
	store := newTestStore(t)
	if err := store.StartRun("run-1", RunMetadata{}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	recorder := NewRecorder(store)
	if err := recorder.Notify(context.Background(), notify.Event{Type: notify.EventRunStarted}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	journal, err := store.Load("run-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(journal.Entries) != 0 {
		t.Errorf("Entries = %d, want 0", len(journal.Entries))
	}
}

func TestRecorder_UnknownRun(t *testing.T) {
	recorder := NewRecorder(newTestStore(t))

	err := recorder.Notify(context.Background(), notify.Event{
		Type:  notify.EventRunStarted,
		RunID: "never-started",
	})
	if err == nil {
		t.Error("Notify for an unstarted run should surface the store error")
	}
}
