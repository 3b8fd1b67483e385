package journal

import (
	"context"

	"github.com/randalmurphal/autoflow/notify"
)

// Recorder adapts a FileStore to the notify.Notifier interface, so the
// engine's event stream doubles as the run journal.
type Recorder struct {
	store *FileStore
}

// NewRecorder creates a journaling notifier backed by store.
func NewRecorder(store *FileStore) *Recorder {
	return &Recorder{store: store}
}

// Notify implements notify.Notifier. Events without a run ID are
// dropped; they cannot be attributed to a journal.
func (r *Recorder) Notify(ctx context.Context, event notify.Event) error {
	if event.RunID == "" {
		return nil
	}

	return r.store.Record(event.RunID, Entry{
		Type:      string(event.Type),
		Stage:     event.Stage,
		Message:   event.Message,
		Severity:  event.Severity,
		Timestamp: event.Timestamp,
		Metadata:  event.Metadata,
	})
}
