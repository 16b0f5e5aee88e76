// Package coreerr implements the error taxonomy shared by every agentcore
// component (message queues, sessions, the pool, the orchestrator). It is
// grounded on goa-ai's runtime/agent/toolerrors package: a single chainable
// error type that preserves message and causal context while remaining
// errors.Is/As friendly.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind discriminates the nine error categories named in the core's error
// handling design.
type Kind string

const (
	// Aborted indicates a queue or session was terminated while an
	// operation was pending.
	Aborted Kind = "aborted"
	// NotActive indicates an operation was attempted on a session that
	// isn't RUNNING.
	NotActive Kind = "not_active"
	// Busy indicates execute was called on an agent with a task already
	// running.
	Busy Kind = "busy"
	// NotFound indicates an unknown agentId or taskId was referenced.
	NotFound Kind = "not_found"
	// Auth indicates start was attempted without credentials.
	Auth Kind = "auth"
	// ModelTransport wraps an error surfaced from the ModelClient. Treated
	// opaquely: the core never inspects it beyond propagation.
	ModelTransport Kind = "model_transport"
	// Parse indicates the orchestrator failed to parse a plan.
	Parse Kind = "parse"
	// Timeout indicates a plan step exceeded its deadline.
	Timeout Kind = "timeout"
	// Internal indicates an invariant violation.
	Internal Kind = "internal"
)

// Error is the structured error type returned across component boundaries.
// Cause may itself be an *Error, forming a chain that errors.Is/As can walk.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an *Error of the given kind with a plain message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an *Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given kind wrapping cause. If message is
// empty, cause's message is reused.
func Wrap(kind Kind, message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, enabling errors.Is/As traversal.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, coreerr.New(coreerr.Busy, "")) or, more idiomatically,
// use the Of helper below.
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return te.Kind == e.Kind
}

// Of reports whether err is a coreerr.Error of the given kind, walking the
// error chain.
func Of(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf extracts the Kind of err if it is a coreerr.Error, defaulting to
// Internal for arbitrary errors so callers always have something to report.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return Internal
}
