package runtime

import "github.com/roach88/signalbox/internal/rterr"

// Error is the typed error reported by every runtime package.
type Error = rterr.Error

// Code categorizes an Error.
type Code = rterr.Code

const (
	CodeUnknownEvent        = rterr.CodeUnknownEvent
	CodeUnknownEffect       = rterr.CodeUnknownEffect
	CodeUnknownCoeffect     = rterr.CodeUnknownCoeffect
	CodeUnknownSubscription = rterr.CodeUnknownSubscription
	CodeMalformedEffect     = rterr.CodeMalformedEffect
	CodeHandlerFailed       = rterr.CodeHandlerFailed
	CodeReentrantDispatch   = rterr.CodeReentrantDispatch
)

// CodeOf returns the code of the first Error in err's chain, or "".
func CodeOf(err error) Code { return rterr.CodeOf(err) }

// IsUnknownEvent reports whether err is an UNKNOWN_EVENT error.
func IsUnknownEvent(err error) bool { return rterr.IsUnknownEvent(err) }

// IsMalformedEffect reports whether err is a MALFORMED_EFFECT error.
func IsMalformedEffect(err error) bool { return rterr.IsMalformedEffect(err) }

// IsHandlerFailed reports whether err is a HANDLER_FAILED error.
func IsHandlerFailed(err error) bool { return rterr.IsHandlerFailed(err) }

// IsReentrantDispatch reports whether err came from a DispatchSync inside
// an event.
func IsReentrantDispatch(err error) bool { return rterr.Is(err, rterr.CodeReentrantDispatch) }
