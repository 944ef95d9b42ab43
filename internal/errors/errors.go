// Package errors provides the structured error taxonomy for MnemoLite.
//
// Errors are classified by Kind, not by concrete type. Callers branch on
// the kind (via KindOf or IsKind) to decide between surfacing, retrying,
// or applying a local fallback.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for propagation policy decisions.
type Kind string

const (
	// KindInvalidArgument indicates a shape or range violation. Never retried.
	KindInvalidArgument Kind = "invalid_argument"
	// KindNotFound indicates the addressed entity is absent.
	KindNotFound Kind = "not_found"
	// KindConflict indicates a uniqueness violation.
	KindConflict Kind = "conflict"
	// KindTimeout indicates a deadline expired.
	KindTimeout Kind = "timeout"
	// KindCircuitOpen indicates a dependency was shed by a circuit breaker.
	// Treated as KindTimeout for degradation purposes.
	KindCircuitOpen Kind = "circuit_open"
	// KindStorageUnavailable indicates the underlying store cannot serve.
	KindStorageUnavailable Kind = "storage_unavailable"
	// KindEmbeddingUnavailable indicates the embedding provider failed.
	// Recoverable: the chunk is written without its embedding.
	KindEmbeddingUnavailable Kind = "embedding_unavailable"
	// KindInternal indicates an unexpected error, surfaced as opaque.
	KindInternal Kind = "internal"
)

// Error is the structured error type carrying a kind, the failing
// operation, and an optional cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error

	// Timeout and Elapsed are set for KindTimeout errors.
	Timeout time.Duration
	Elapsed time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: [%s] %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind, enabling errors.Is with sentinel kinds.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// E creates a new Error with the given kind, operation, and message.
func E(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error with the given kind from an existing error.
// Returns nil if err is nil.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Cause: err}
}

// TimeoutError creates a KindTimeout error carrying the configured
// deadline and the observed elapsed time.
func TimeoutError(op string, timeout, elapsed time.Duration) *Error {
	return &Error{
		Kind:    KindTimeout,
		Op:      op,
		Message: fmt.Sprintf("deadline of %s expired after %s", timeout, elapsed),
		Timeout: timeout,
		Elapsed: elapsed,
	}
}

// KindOf walks the error chain and returns the kind of the first
// structured error found, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether any error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Degraded reports whether the error should trigger a local fallback
// rather than bubble up: timeouts, breaker trips, and embedding loss.
func Degraded(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindCircuitOpen, KindEmbeddingUnavailable:
		return true
	default:
		return false
	}
}
