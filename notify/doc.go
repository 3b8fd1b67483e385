// Package notify delivers orchestration run and stage events.
//
// Core types:
//   - Notifier: Interface for delivering events
//   - Event: One event with type, message, severity, and metadata
//   - EventType: What happened (run_started, stage_failed, etc.)
//
// Implementations:
//   - LogNotifier: Logs events through slog
//   - WebhookNotifier: Posts events to a generic webhook
//   - SlackNotifier: Posts events to a Slack incoming webhook
//   - MultiNotifier: Fans out to several notifiers
//   - NopNotifier: Discards everything
//
// The engine treats delivery as fire-and-forget: a failing notifier is
// logged and never fails the run.
//
// Example usage:
//
//	notifier := notify.NewSlackNotifier(webhookURL,
//	    notify.WithSlackChannel("#automation"),
//	)
//	_ = notifier.Notify(ctx, notify.Event{
//	    Type:    notify.EventRunCompleted,
//	    RunID:   runID,
//	    Message: "run completed with 4 artifacts",
//	})
package notify
