package autoflow

import (
	"errors"
	"fmt"
)

// Run construction errors
var (
	// ErrNilRequest indicates Run was called without a request.
	ErrNilRequest = errors.New("nil request")

	// ErrNoExecutor indicates no executor is registered for a planned stage kind.
	ErrNoExecutor = errors.New("no executor registered for stage kind")

	// ErrNoGenerator indicates a refinable stage has no generation collaborator.
	ErrNoGenerator = errors.New("no generator registered for refinable stage")

	// ErrNoScorer indicates a refinable stage has no scoring collaborator.
	ErrNoScorer = errors.New("no scorer registered for refinable stage")
)

// ValidationError reports a malformed request, plan, or configuration.
// No stage runs when Run returns one.
type ValidationError struct {
	Field  string // What was invalid (e.g., "request", "config.Threshold")
	Reason string // Human-readable explanation
	Err    error  // Underlying cause, if any
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation: %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// StageError reports a stage executor failure or timeout. It is handled
// according to the stage's failure policy and carried in the per-stage
// report; it only surfaces on the run outcome when the policy is fatal.
type StageError struct {
	Stage   string // Stage ID
	Attempt int    // 1-based attempt that failed last
	Timeout bool   // True when the stage deadline expired
	Err     error  // Underlying executor error
}

func (e *StageError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("stage %s: attempt %d timed out: %v", e.Stage, e.Attempt, e.Err)
	}
	return fmt.Sprintf("stage %s: attempt %d: %v", e.Stage, e.Attempt, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ScoringError reports that a refinement loop never produced a scored
// candidate. Individual scoring failures inside the loop are failed
// iterations, not errors; this type appears only when every iteration
// failed.
type ScoringError struct {
	Stage      string // Refinable stage ID
	Iterations int    // Iterations attempted
	Err        error  // Last collaborator error observed
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("scoring %s: no candidate scored in %d iterations: %v",
		e.Stage, e.Iterations, e.Err)
}

func (e *ScoringError) Unwrap() error {
	return e.Err
}

// CompactionError reports a summarizer failure during context compaction.
// Compaction degrades to lossy and the run continues; the error is
// recorded as a warning.
type CompactionError struct {
	SessionID string
	Err       error
}

func (e *CompactionError) Error() string {
	return fmt.Sprintf("compaction %s: %v", e.SessionID, e.Err)
}

func (e *CompactionError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a memory bank write failure after the run
// outcome is already settled. It is recorded as a warning and never
// invalidates produced artifacts.
type PersistenceError struct {
	SessionID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.SessionID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStageFailure reports whether err is, or wraps, a StageError.
func IsStageFailure(err error) bool {
	var se *StageError
	return errors.As(err, &se)
}

// IsScoringFailure reports whether err is, or wraps, a ScoringError.
func IsScoringFailure(err error) bool {
	var se *ScoringError
	return errors.As(err, &se)
}

// IsCompactionFailure reports whether err is, or wraps, a CompactionError.
func IsCompactionFailure(err error) bool {
	var ce *CompactionError
	return errors.As(err, &ce)
}

// IsPersistenceFailure reports whether err is, or wraps, a PersistenceError.
func IsPersistenceFailure(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
