// Package errs defines the sealed error-kind taxonomy shared by every
// storage-substrate package. Backend-specific failures are wrapped at the
// adapter boundary so callers only ever branch on Kind.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is a closed enumeration; new values must be added here, never
// inferred from a backend's native error type.
type Kind int

const (
	Internal Kind = iota
	InvalidKey
	IncompatibleRevision
	KeyAlreadyExists
	PreconditionFailed
	NotFound
	Conflict
	ReadOnly
	ReadAndDeletionOnly
	Canceled
	TimedOut
	TxClosed
	DimensionMismatch
	VectorTypeMismatch
	VsOverflow
)

func (k Kind) String() string {
	switch k {
	case InvalidKey:
		return "InvalidKey"
	case IncompatibleRevision:
		return "IncompatibleRevision"
	case KeyAlreadyExists:
		return "KeyAlreadyExists"
	case PreconditionFailed:
		return "PreconditionFailed"
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case ReadOnly:
		return "ReadOnly"
	case ReadAndDeletionOnly:
		return "ReadAndDeletionOnly"
	case Canceled:
		return "Canceled"
	case TimedOut:
		return "TimedOut"
	case TxClosed:
		return "TxClosed"
	case DimensionMismatch:
		return "DimensionMismatch"
	case VectorTypeMismatch:
		return "VectorTypeMismatch"
	case VsOverflow:
		return "VsOverflow"
	default:
		return "Internal"
	}
}

// Error is the concrete error value threaded through the core. It carries
// a Kind plus an optional wrapped cause with stack (via pkg/errors), so
// backend diagnostics survive while callers only match on Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a Kind-tagged error with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an arbitrary backend error, recording a stack
// trace at the call site via pkg/errors.
func Wrap(kind Kind, msg string, cause error) *Error {
	if cause == nil {
		return New(kind, msg)
	}
	return &Error{Kind: kind, Msg: msg, Err: errors.WithStack(cause)}
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to Internal for foreign
// errors so callers never have to nil-check before switching on it.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return Internal
	}
	return Internal
}

// Cause unwraps to the deepest non-*Error cause, mirroring pkg/errors.Cause.
func Cause(err error) error {
	return errors.Cause(err)
}
