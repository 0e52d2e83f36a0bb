package common

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure classes surfaced by the engine.
type ErrorKind uint8

const (
	// KindIoFailure means a disk read, write or sync failed.
	KindIoFailure ErrorKind = iota + 1
	// KindCorruption means a checksum, trailer or index did not validate.
	KindCorruption
	// KindInvalidArgument means the request was rejected before any I/O.
	KindInvalidArgument
	// KindClosed means the engine was used after Close.
	KindClosed
)

func (k ErrorKind) String() string {
	switch k {
	case KindIoFailure:
		return "io_failure"
	case KindCorruption:
		return "corruption"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Error carries a kind, the failing operation, and the underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Sentinels for errors.Is matching on kind alone.
var (
	ErrIoFailure       = &Error{Kind: KindIoFailure}
	ErrCorruption      = &Error{Kind: KindCorruption}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrClosed          = &Error{Kind: KindClosed}
)

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind when target is a bare sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op == "" && t.Err == nil {
		return e.Kind == t.Kind
	}
	return e == t
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IoFailure wraps err as an I/O failure unless it already carries a kind.
func IoFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != 0 {
		return err
	}
	return &Error{Kind: KindIoFailure, Op: op, Err: err}
}

// Corruption builds a corruption error with a formatted cause.
func Corruption(op string, format string, args ...any) error {
	return &Error{Kind: KindCorruption, Op: op, Err: fmt.Errorf(format, args...)}
}

// InvalidArgument builds an invalid-argument error with a formatted cause.
func InvalidArgument(op string, format string, args ...any) error {
	return &Error{Kind: KindInvalidArgument, Op: op, Err: fmt.Errorf(format, args...)}
}
