package autoflow

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Field: "config.Workers", Reason: "must be at least 1, got 0"}
	want := "validation: config.Workers: must be at least 1, got 0"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestValidationError_WrapsSentinel(t *testing.T) {
	err := &ValidationError{Field: "request", Err: ErrNilRequest}
	if !errors.Is(err, ErrNilRequest) {
		t.Error("errors.Is should find ErrNilRequest through ValidationError")
	}
	if !IsValidation(err) {
		t.Error("IsValidation should match a *ValidationError")
	}
	if !IsValidation(fmt.Errorf("run: %w", err)) {
		t.Error("IsValidation should match through wrapping")
	}
}

func TestStageError_Error(t *testing.T) {
	inner := errors.New("model unavailable")

	err := &StageError{Stage: "tests", Attempt: 2, Err: inner}
	want := "stage tests: attempt 2: model unavailable"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	timeoutErr := &StageError{Stage: "tests", Attempt: 1, Timeout: true, Err: inner}
	wantTimeout := "stage tests: attempt 1 timed out: model unavailable"
	if timeoutErr.Error() != wantTimeout {
		t.Errorf("Error() = %q, want %q", timeoutErr.Error(), wantTimeout)
	}
}

func TestStageError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &StageError{Stage: "docs", Attempt: 1, Err: inner}
	if !errors.Is(err, inner) {
		t.Error("errors.Is should reach the wrapped error")
	}
	if !IsStageFailure(err) {
		t.Error("IsStageFailure should match a *StageError")
	}
	if IsStageFailure(inner) {
		t.Error("IsStageFailure should not match a bare error")
	}
}

func TestScoringError_ChainsThroughStageError(t *testing.T) {
	scoring := &ScoringError{Stage: "playbook", Iterations: 3, Err: errors.New("no iteration produced a score")}
	staged := &StageError{Stage: "playbook", Attempt: 2, Err: scoring}

	if !IsScoringFailure(staged) {
		t.Error("IsScoringFailure should find the ScoringError inside a StageError")
	}
	if !IsStageFailure(staged) {
		t.Error("IsStageFailure should still match the outer error")
	}
}

func TestCompactionError_Error(t *testing.T) {
	err := &CompactionError{SessionID: "sess-1", Err: errors.New("summarizer offline")}
	want := "compaction sess-1: summarizer offline"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !IsCompactionFailure(err) {
		t.Error("IsCompactionFailure should match a *CompactionError")
	}
}

func TestPersistenceError_Error(t *testing.T) {
	err := &PersistenceError{SessionID: "sess-1", Err: errors.New("disk full")}
	if !IsPersistenceFailure(err) {
		t.Error("IsPersistenceFailure should match a *PersistenceError")
	}
	if IsPersistenceFailure(errors.New("disk full")) {
		t.Error("IsPersistenceFailure should not match a bare error")
	}
}

func TestSentinels_Defined(t *testing.T) {
	sentinels := []error{
		ErrNilRequest,
		ErrNoExecutor,
		ErrNoGenerator,
		ErrNoScorer,
	}

	seen := make(map[string]bool)
	for _, err := range sentinels {
		if err == nil {
			t.Error("sentinel should not be nil")
			continue
		}
		msg := err.Error()
		if msg == "" {
			t.Error("sentinel message should not be empty")
		}
		if seen[msg] {
			t.Errorf("Duplicate error message: %q", msg)
		}
		seen[msg] = true
	}
}

func TestPredicates_NilSafe(t *testing.T) {
	for name, pred := range map[string]func(error) bool{
		"IsValidation":         IsValidation,
		"IsStageFailure":       IsStageFailure,
		"IsScoringFailure":     IsScoringFailure,
		"IsCompactionFailure":  IsCompactionFailure,
		"IsPersistenceFailure": IsPersistenceFailure,
	} {
		if pred(nil) {
			t.Errorf("%s(nil) = true, want false", name)
		}
	}
}
