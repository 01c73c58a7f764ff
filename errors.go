package tidestore

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the taxonomy of failures the engine reports.
type Kind int

const (
	// KindInvalidArgument covers bad options or API misuse: modifying a
	// free page, a duplicate insert, popping an empty stack.
	KindInvalidArgument Kind = iota
	// KindOutOfRange covers requests referencing pages beyond the mapped
	// view's size.
	KindOutOfRange
	// KindNoSpace covers allocator failure to find a qualifying run, or
	// growth past MaximumSize.
	KindNoSpace
	// KindCorruption covers on-disk structures violating an invariant:
	// wrong magic, version, kind, or truncation.
	KindCorruption
	// KindIO covers platform I/O failures: unmap, close, fsync, read, write.
	KindIO
	// KindOutOfMemory covers host allocator failure.
	KindOutOfMemory
	// KindBusy covers an attempt to start a second concurrent write
	// transaction.
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindOutOfRange:
		return "OUT_OF_RANGE"
	case KindNoSpace:
		return "NO_SPACE"
	case KindCorruption:
		return "CORRUPTION"
	case KindIO:
		return "IO"
	case KindOutOfMemory:
		return "OUT_OF_MEMORY"
	case KindBusy:
		return "BUSY"
	default:
		return "UNKNOWN"
	}
}

// Error is the error type every exported operation returns on failure. It
// carries a taxonomic Kind plus a causal chain produced with
// github.com/pkg/errors, so a failure surfaced from deep inside the
// allocator or B+tree keeps a stack trace back to its origin.
type Error struct {
	Kind Kind
	Op   string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("tidestore: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("tidestore: %s: %s: %v", e.Op, e.Kind, e.err)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.err }

// Cause exposes the wrapped cause for github.com/pkg/errors consumers.
func (e *Error) Cause() error { return e.err }

func newErr(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, err: errors.New(msg)}
}

func wrapErr(op string, kind Kind, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, err: errors.WithStack(cause)}
}

func wrapErrf(op string, kind Kind, cause error, format string, args ...interface{}) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, err: errors.Wrapf(cause, format, args...)}
}

// IsKind reports whether err is a *Error of the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
