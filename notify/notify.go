package notify

import (
	"context"
	"time"
)

// =============================================================================
// Event Types
// =============================================================================

// EventType represents the type of orchestration event.
type EventType string

// Event type constants.
const (
	EventRunStarted       EventType = "run_started"
	EventRunCompleted     EventType = "run_completed"
	EventRunDegraded      EventType = "run_degraded"
	EventRunFailed        EventType = "run_failed"
	EventStageStarted     EventType = "stage_started"
	EventStageCompleted   EventType = "stage_completed"
	EventStageFailed      EventType = "stage_failed"
	EventStageSkipped     EventType = "stage_skipped"
	EventLoopIteration    EventType = "loop_iteration"
	EventContextCompacted EventType = "context_compacted"
	EventMemoryPersisted  EventType = "memory_persisted"
)

// Severity constants for notification events.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Event describes one orchestration event for notification.
type Event struct {
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id"`
	SessionID string         `json:"session_id"`
	Stage     string         `json:"stage,omitempty"`
	Message   string         `json:"message"`
	Severity  string         `json:"severity"` // SeverityInfo, SeverityWarning, SeverityError
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// =============================================================================
// Notifier Interface
// =============================================================================

// Notifier delivers orchestration events.
type Notifier interface {
	// Notify delivers one event. Implementations should be quick and
	// handle their own failures; the engine treats delivery as
	// fire-and-forget and never fails a run over it.
	Notify(ctx context.Context, event Event) error
}

// =============================================================================
// Context Injection
// =============================================================================

type serviceContextKey string

const notifierServiceKey serviceContextKey = "autoflow.notifier"

// WithNotifier adds a Notifier to the context.
func WithNotifier(ctx context.Context, n Notifier) context.Context {
	return context.WithValue(ctx, notifierServiceKey, n)
}

// NotifierFromContext extracts the Notifier from context.
// Returns nil if no notifier is configured.
func NotifierFromContext(ctx context.Context) Notifier {
	if n, ok := ctx.Value(notifierServiceKey).(Notifier); ok {
		return n
	}
	return nil
}

// MustNotifierFromContext extracts the Notifier or panics.
func MustNotifierFromContext(ctx context.Context) Notifier {
	n := NotifierFromContext(ctx)
	if n == nil {
		panic("autoflow: Notifier not found in context")
	}
	return n
}
