// Package rterr defines the typed errors reported by the runtime.
package rterr

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Code categorizes runtime errors.
type Code string

const (
	// CodeUnknownEvent indicates no handler is registered for an event id.
	CodeUnknownEvent Code = "UNKNOWN_EVENT"

	// CodeUnknownEffect indicates no handler is registered for an effect kind.
	CodeUnknownEffect Code = "UNKNOWN_EFFECT"

	// CodeUnknownCoeffect indicates no injector is registered for a coeffect kind.
	CodeUnknownCoeffect Code = "UNKNOWN_COEFFECT"

	// CodeUnknownSubscription indicates no compute function is registered for a query id.
	CodeUnknownSubscription Code = "UNKNOWN_SUBSCRIPTION"

	// CodeMalformedEffect indicates an effect value has the wrong shape.
	CodeMalformedEffect Code = "MALFORMED_EFFECT"

	// CodeHandlerFailed indicates an interceptor hook or handler returned an
	// error or panicked.
	CodeHandlerFailed Code = "HANDLER_FAILED"

	// CodeReentrantDispatch indicates a synchronous dispatch while another
	// event was executing.
	CodeReentrantDispatch Code = "REENTRANT_DISPATCH"
)

// Error is a runtime error with structured fields for diagnostics.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// EventID is the id of the event being processed, if any.
	EventID string

	// Kind is the effect, coeffect or subscription kind involved, if any.
	Kind string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Kind != "" {
		msg += fmt.Sprintf(" (kind=%s)", e.Kind)
	}
	if e.EventID != "" {
		msg += fmt.Sprintf(" (event=%s)", e.EventID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithEvent sets EventID and returns e.
func (e *Error) WithEvent(id string) *Error {
	e.EventID = id
	return e
}

// WithKind sets Kind and returns e.
func (e *Error) WithKind(kind string) *Error {
	e.Kind = kind
	return e
}

// Wrap attaches a cause and returns e.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// CodeOf returns the code of the first Error in err's chain, or "".
func CodeOf(err error) Code {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// Is reports whether any Error in err's chain carries the given code, so a
// HANDLER_FAILED wrapping a REENTRANT_DISPATCH matches both.
func Is(err error, code Code) bool {
	for err != nil {
		var re *Error
		if !errors.As(err, &re) {
			return false
		}
		if re.Code == code {
			return true
		}
		err = re.Err
	}
	return false
}

func IsUnknownEvent(err error) bool { return Is(err, CodeUnknownEvent) }
func IsUnknownEffect(err error) bool { return Is(err, CodeUnknownEffect) }
func IsMalformedEffect(err error) bool { return Is(err, CodeMalformedEffect) }
func IsHandlerFailed(err error) bool { return Is(err, CodeHandlerFailed) }

// Recovered converts a recovered panic value into a HANDLER_FAILED error.
func Recovered(where string, r any) *Error {
	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("%v", r)
	}
	return &Error{
		Code:    CodeHandlerFailed,
		Message: fmt.Sprintf("panic in %s\n%s", where, debug.Stack()),
		Err:     err,
	}
}
