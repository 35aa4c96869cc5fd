// Package werr provides the typed error classification used across
// weave's components to route failures to the right sync-status axis.
package werr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of sync-status routing and
// reconnect policy.
type Kind string

const (
	// Network errors are transient; the caller should reconnect.
	Network Kind = "network"
	// Protocol errors indicate a malformed remote event; log and reconnect.
	Protocol Kind = "protocol"
	// Storage errors come from the local store; surfaced as localSave:error.
	Storage Kind = "storage"
	// Merge errors come from a Differ.Merge call; surfaced as saveError.
	Merge Kind = "merge"
	// Shutdown errors indicate an operation attempted after close.
	Shutdown Kind = "shutdown"
	// Fatal errors are unrecoverable; the transport must not reconnect.
	Fatal Kind = "fatal"
)

// Error wraps an underlying cause with a Kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given Kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, or "" if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Reconnect reports whether a transport should retry after err: every
// Kind reconnects except Fatal and Shutdown.
func Reconnect(err error) bool {
	k := KindOf(err)
	return k != Fatal && k != Shutdown
}
