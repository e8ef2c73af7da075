// Package errs defines the execution engine's closed error taxonomy.
// Failures that the orchestrator and the retry package dispatch on are
// carried as an *ExecutionError, so they can switch on Kind without
// type assertions on unrelated error types; other failures are plain
// wrapped errors, which KindOf and retry.Classify treat as SYSTEM.
package errs

import (
	"errors"
	"fmt"

	"github.com/web3guy0/execengine/types"
)

// ExecutionError carries a closed Kind, a human-readable message, a
// retryability hint and an optional wrapped cause.
type ExecutionError struct {
	Kind      types.ErrorKind
	Message   string
	Retryable bool
	Cause     error
}

func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// New builds an ExecutionError with no wrapped cause.
func New(kind types.ErrorKind, message string) *ExecutionError {
	return &ExecutionError{Kind: kind, Message: message}
}

// Wrap builds an ExecutionError carrying cause, marked retryable per kind.
func Wrap(kind types.ErrorKind, message string, cause error) *ExecutionError {
	return &ExecutionError{Kind: kind, Message: message, Cause: cause, Retryable: Retryable(kind)}
}

// Retryable reports whether errors of this kind are recovered locally
// via retry/backoff/circuit-breaker rather than surfaced to the caller.
func Retryable(kind types.ErrorKind) bool {
	switch kind {
	case types.ErrorKindNetwork, types.ErrorKindTimeout, types.ErrorKindRateLimit,
		types.ErrorKindTransient, types.ErrorKindSystem:
		return true
	default:
		return false
	}
}

// Fatal reports whether errors of this kind should abort the process
// after flushing logs rather than ever being recovered by mutation.
func Fatal(kind types.ErrorKind) bool {
	return kind == types.ErrorKindDataIntegrity
}

// As is a thin re-export of errors.As so callers don't need to import
// both errs and errors just to unwrap an ExecutionError.
func As(err error, target **ExecutionError) bool {
	return errors.As(err, target)
}

// KindOf extracts the Kind from err if it is (or wraps) an
// *ExecutionError, otherwise returns ErrorKindSystem as a conservative
// default.
func KindOf(err error) types.ErrorKind {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return types.ErrorKindSystem
}

var (
	ErrSignalNotFound     = New(types.ErrorKindValidation, "signal not found")
	ErrInvalidTransition  = New(types.ErrorKindStateMachine, "invalid transition")
	ErrDuplicatePosition  = New(types.ErrorKindDataIntegrity, "duplicate open position for trade")
	ErrReconciliationNeeded = New(types.ErrorKindReconciliation, "closure partially durable, reconciliation required")
)
