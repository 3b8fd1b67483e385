// Package errors provides CLI error patterns with user-friendly messaging.
//
// Core types:
//   - CLIError: Wraps errors with message, suggestion, and details
//   - Messenger: Interface for customizing error messages
//
// The wrap helpers translate the engine's error taxonomy into
// terminal-ready guidance:
//   - WrapRequestError: request file loading and validation problems
//   - WrapRunError: engine validation, wiring, and scoring failures
//   - WrapStateError: journal, memory, and artifact write problems
//
// Example usage:
//
//	req, err := workflow.LoadRequest(path)
//	if err != nil {
//	    return errors.WrapRequestError(err, path)
//	}
//
//	// Wrap with custom messages
//	type MyMessenger struct{ errors.DefaultMessenger }
//	func (m MyMessenger) ScoringErrorMessage() (string, string) {
//	    return "Review never accepted a draft.", "Run again with -threshold 3."
//	}
//
//	wrapped := errors.WrapRunError(err, errors.WithMessenger(MyMessenger{}))
package errors
