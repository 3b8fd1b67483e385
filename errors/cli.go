package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/randalmurphal/autoflow"
	"github.com/randalmurphal/autoflow/workflow"
)

// CLIError wraps an error with user-friendly context and suggestions.
type CLIError struct {
	// Err is the underlying error
	Err error

	// Message is a user-friendly description of what went wrong
	Message string

	// Suggestion is an actionable hint for the user
	Suggestion string

	// Details provides additional context (optional)
	Details string
}

func (e *CLIError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Details != "" {
		sb.WriteString("\n")
		sb.WriteString(e.Details)
	}

	if e.Suggestion != "" {
		sb.WriteString("\n\n")
		sb.WriteString(e.Suggestion)
	}

	return sb.String()
}

func (e *CLIError) Unwrap() error {
	return e.Err
}

// Messenger provides customizable error messages.
// Implement this interface to customize suggestions for your CLI.
type Messenger interface {
	// RequestErrorMessage returns the message and suggestion for an
	// invalid or unreadable request file.
	RequestErrorMessage(path string) (message, suggestion string)

	// WiringErrorMessage returns the message and suggestion when a
	// stage has no registered collaborator.
	WiringErrorMessage() (message, suggestion string)

	// ScoringErrorMessage returns the message and suggestion when the
	// quality loop produced no scored candidate.
	ScoringErrorMessage() (message, suggestion string)

	// StateErrorMessage returns the message and suggestion for state
	// directory problems (journal, memory, artifacts).
	StateErrorMessage(dir string) (message, suggestion string)
}

// DefaultMessenger provides default error messages.
type DefaultMessenger struct{}

func (m DefaultMessenger) RequestErrorMessage(path string) (string, string) {
	if path == "" {
		return "The automation request is invalid.",
			"Check the request for a name, at least one task, and a known ci platform."
	}
	return fmt.Sprintf("The request file %s is invalid or unreadable.", path),
		"Check that:\n  - The file exists and is readable\n  - It is valid YAML\n  - It declares a name and at least one task"
}

func (m DefaultMessenger) WiringErrorMessage() (string, string) {
	return "A planned stage has no registered collaborator.",
		"Register an executor for every stage kind, and a generator and scorer for refined stages."
}

func (m DefaultMessenger) ScoringErrorMessage() (string, string) {
	return "No draft survived review scoring.",
		"Raise the iteration ceiling, lower the acceptance threshold, or check the reviewer."
}

func (m DefaultMessenger) StateErrorMessage(dir string) (string, string) {
	if dir == "" {
		return "The run state could not be written.",
			"Check that the state directory exists and is writable."
	}
	return fmt.Sprintf("The run state under %s could not be written.", dir),
		"Check that the directory exists, is writable, and has free space."
}

// WrapConfig configures error wrapping behavior.
type WrapConfig struct {
	Messenger Messenger
}

// Option configures WrapConfig.
type Option func(*WrapConfig)

// WithMessenger sets a custom error messenger.
func WithMessenger(m Messenger) Option {
	return func(c *WrapConfig) {
		c.Messenger = m
	}
}

func getMessenger(opts []Option) Messenger {
	cfg := &WrapConfig{
		Messenger: DefaultMessenger{},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg.Messenger
}

// WrapRequestError wraps request loading and validation errors with
// guidance. Errors outside that family pass through unchanged.
func WrapRequestError(err error, path string, opts ...Option) error {
	if err == nil {
		return nil
	}

	messenger := getMessenger(opts)

	if errors.Is(err, fs.ErrNotExist) {
		return &CLIError{
			Err:        err,
			Message:    fmt.Sprintf("Request file %s not found.", path),
			Suggestion: "Check the path, or write a request file with a name and a tasks list.",
		}
	}

	if errors.Is(err, workflow.ErrMissingName) ||
		errors.Is(err, workflow.ErrNoTasks) ||
		errors.Is(err, workflow.ErrUnknownCI) ||
		strings.Contains(err.Error(), "parse request") {
		msg, suggestion := messenger.RequestErrorMessage(path)
		return &CLIError{
			Err:        err,
			Message:    msg,
			Details:    err.Error(),
			Suggestion: suggestion,
		}
	}

	return err
}

// WrapRunError wraps engine run errors with guidance. Errors outside
// the engine's taxonomy pass through unchanged.
func WrapRunError(err error, opts ...Option) error {
	if err == nil {
		return nil
	}

	messenger := getMessenger(opts)

	switch {
	case errors.Is(err, autoflow.ErrNoExecutor),
		errors.Is(err, autoflow.ErrNoGenerator),
		errors.Is(err, autoflow.ErrNoScorer):
		msg, suggestion := messenger.WiringErrorMessage()
		return &CLIError{Err: err, Message: msg, Details: err.Error(), Suggestion: suggestion}

	case autoflow.IsScoringFailure(err):
		msg, suggestion := messenger.ScoringErrorMessage()
		return &CLIError{Err: err, Message: msg, Details: err.Error(), Suggestion: suggestion}

	case autoflow.IsValidation(err):
		msg, suggestion := messenger.RequestErrorMessage("")
		return &CLIError{Err: err, Message: msg, Details: err.Error(), Suggestion: suggestion}
	}

	return err
}

// WrapStateError wraps journal, memory, and artifact persistence
// errors with guidance about the state directory.
func WrapStateError(err error, dir string, opts ...Option) error {
	if err == nil {
		return nil
	}

	messenger := getMessenger(opts)

	if autoflow.IsPersistenceFailure(err) || errors.Is(err, fs.ErrPermission) {
		msg, suggestion := messenger.StateErrorMessage(dir)
		return &CLIError{Err: err, Message: msg, Details: err.Error(), Suggestion: suggestion}
	}

	return err
}
