// Package errs defines the error taxonomy shared across the settlement
// engine. Callers classify failures with KindOf rather than matching error
// strings; the retry orchestrator uses IsRetryable to separate hard input
// errors from transient infrastructure ones.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and retry decisions.
type Kind uint8

const (
	// KindUnknown covers untyped errors from drivers and third parties.
	KindUnknown Kind = iota

	// KindValidation: bad input (malformed date, non-positive amount).
	KindValidation

	// KindConflict: uniqueness violated (duplicate settlement date).
	KindConflict

	// KindNotFound: referenced entity does not exist.
	KindNotFound

	// KindAuthorization: confirmation secret or credential mismatch.
	KindAuthorization

	// KindInvalidState: operation not legal for the entity's current status.
	KindInvalidState

	// KindGateway: payment or bank rail failure.
	KindGateway

	// KindSystem: storage or local infrastructure failure.
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindInvalidState:
		return "invalid_state"
	case KindGateway:
		return "gateway"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Error carries a kind, the operation that failed and an optional cause.
type Error struct {
	Kind Kind
	Op   string // e.g. "settlement.generate"
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a typed error. cause may be nil.
func E(kind Kind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: cause}
}

// Errorf builds a typed error with a formatted message and no cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf walks the error chain and returns the first declared kind, or
// KindUnknown if no *Error is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// IsRetryable reports whether the orchestrator may retry the operation.
// Gateway and system failures are transient; untyped errors are treated as
// transient too since they originate from drivers and remote calls.
// Validation, conflict, not-found, authorization and invalid-state errors
// propagate immediately.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindGateway, KindSystem, KindUnknown:
		return err != nil
	default:
		return false
	}
}
