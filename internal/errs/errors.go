// Package errs defines the Stem scheduler's error taxonomy (spec §7).
//
// Each kind is a distinct Go type carrying Code/Message/Err (plus a
// Title on InvalidRequestError and LedgerConflictError) so callers can
// branch on kind with errors.As instead of string matching,
// the same shape the teacher uses for its EntityNotFoundError /
// ValidationError family.
package errs

import (
	"fmt"
	"strings"
)

// InvalidRequestError: caller violated a precondition (negative amount,
// empty message list, unknown affordance key at admission).
type InvalidRequestError struct {
	Code    string
	Title   string
	Message string
	Err     error
}

func (e InvalidRequestError) Error() string { return format("invalid_request", e.Code, e.Message, e.Err) }
func (e InvalidRequestError) Unwrap() error { return e.Err }

// LedgerConflictError: a reservation's state transition contradicts its
// current state (double settle with a different reference, refund
// after settle).
type LedgerConflictError struct {
	Code          string
	Title         string
	Message       string
	ReservationID string
	Err           error
}

func (e LedgerConflictError) Error() string {
	return format("ledger_conflict", e.Code, e.Message, e.Err)
}
func (e LedgerConflictError) Unwrap() error { return e.Err }

// ArithmeticError: overflow or division error on balance math.
type ArithmeticError struct {
	Code    string
	Message string
	Err     error
}

func (e ArithmeticError) Error() string { return format("arithmetic_error", e.Code, e.Message, e.Err) }
func (e ArithmeticError) Unwrap() error { return e.Err }

// InvariantViolationError: an internal check failed (duplicate spine
// seq_no, terminal reservation without reference). Fatal for the cycle,
// never swallowed.
type InvariantViolationError struct {
	Code    string
	Message string
	Err     error
}

func (e InvariantViolationError) Error() string {
	return format("invariant_violation", e.Code, e.Message, e.Err)
}
func (e InvariantViolationError) Unwrap() error { return e.Err }

// BackendTransientError: upstream inference or endpoint reported a
// transient condition; retryable iff before first output.
type BackendTransientError struct {
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e BackendTransientError) Error() string {
	return format("backend_transient", e.Code, e.Message, e.Err)
}
func (e BackendTransientError) Unwrap() error { return e.Err }

// BackendPermanentError: upstream declined or permanently failed; not
// retried.
type BackendPermanentError struct {
	Code    string
	Message string
	Err     error
}

func (e BackendPermanentError) Error() string {
	return format("backend_permanent", e.Code, e.Message, e.Err)
}
func (e BackendPermanentError) Unwrap() error { return e.Err }

// ProtocolViolationError: wire or stream framing broken (duplicate
// usage event, missing content length).
type ProtocolViolationError struct {
	Code    string
	Message string
	Err     error
}

func (e ProtocolViolationError) Error() string {
	return format("protocol_violation", e.Code, e.Message, e.Err)
}
func (e ProtocolViolationError) Unwrap() error { return e.Err }

// AuthenticationError: credential resolution or upstream auth failed.
type AuthenticationError struct {
	Code    string
	Message string
	Err     error
}

func (e AuthenticationError) Error() string {
	return format("authentication", e.Code, e.Message, e.Err)
}
func (e AuthenticationError) Unwrap() error { return e.Err }

// BudgetExceededError: request limits above configured caps; also
// raised by the cognition budget guard.
type BudgetExceededError struct {
	Code    string
	Message string
	Err     error
}

func (e BudgetExceededError) Error() string {
	return format("budget_exceeded", e.Code, e.Message, e.Err)
}
func (e BudgetExceededError) Unwrap() error { return e.Err }

// UnsupportedCapabilityError: a request asks for a capability the
// chosen backend does not advertise.
type UnsupportedCapabilityError struct {
	Code    string
	Message string
	Err     error
}

func (e UnsupportedCapabilityError) Error() string {
	return format("unsupported_capability", e.Code, e.Message, e.Err)
}
func (e UnsupportedCapabilityError) Unwrap() error { return e.Err }

func format(kind, code, message string, err error) string {
	if strings.TrimSpace(message) == "" {
		if err != nil {
			return fmt.Sprintf("%s: %s", kind, err.Error())
		}

		if strings.TrimSpace(code) != "" {
			return fmt.Sprintf("%s: %s", kind, code)
		}

		return kind
	}

	if strings.TrimSpace(code) != "" {
		return fmt.Sprintf("%s[%s]: %s", kind, code, message)
	}

	return fmt.Sprintf("%s: %s", kind, message)
}
