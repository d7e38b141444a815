package ledger

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an Executor operation failed, mirroring the
// vocabulary a caller needs to decide whether to retry or report upward.
type ErrorKind int

const (
	// KindInsufficientFunds: derived source balance < requested amount
	// after locks are held. Terminal, not retried, not audited — an
	// expected business outcome rather than a failure of the machinery.
	KindInsufficientFunds ErrorKind = iota
	// KindConflict: a retryable isolation failure that still failed
	// after the retry budget was spent. Terminal, audited.
	KindConflict
	// KindValidationFailure: the store rejected a value the caller did
	// not pre-validate (e.g. a foreign-key violation on an unknown
	// user). Terminal, not retried.
	KindValidationFailure
	// KindCanceled: the caller's context was canceled. Terminal, not
	// audited.
	KindCanceled
	// KindInternal: anything else — connectivity, unexpected store
	// error. Terminal; audited for writes.
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindConflict:
		return "conflict"
	case KindValidationFailure:
		return "validation_failure"
	case KindCanceled:
		return "canceled"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the core's single error type: a classified kind, the operation
// that produced it, and the underlying cause if any.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError constructs a classified *Error for the given operation.
func newError(op string, kind ErrorKind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// InsufficientFunds builds a terminal, non-retried, non-audited error for
// an overdraft attempt.
func InsufficientFunds(op string) *Error {
	return newError(op, KindInsufficientFunds, nil)
}

// Conflict builds a terminal, audited error for retry-budget exhaustion.
func Conflict(op string, err error) *Error {
	return newError(op, KindConflict, err)
}

// ValidationFailure builds a terminal error for a store-rejected value.
func ValidationFailure(op string, err error) *Error {
	return newError(op, KindValidationFailure, err)
}

// Canceled builds a terminal, non-audited error for caller cancellation.
func Canceled(op string, err error) *Error {
	return newError(op, KindCanceled, err)
}

// Internal builds a terminal, audited-for-writes error for anything else.
func Internal(op string, err error) *Error {
	return newError(op, KindInternal, err)
}

// KindOf extracts the ErrorKind from err if it is (or wraps) a *Error,
// defaulting to KindInternal otherwise.
func KindOf(err error) ErrorKind {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind
	}
	return KindInternal
}
