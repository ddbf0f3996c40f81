// Package domainerrors provides coded errors for the engine's domain layer.
//
// Services create these at validation and authorization boundaries; the HTTP
// layer translates codes to status responses. Infrastructure facts (a row
// missing, a store down) use pkg/platform/sentinel instead and are wrapped
// into coded errors by services.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error. Codes are stable API surface: callers and
// compliance tooling match on them, so never rename an existing code.
type Code string

const (
	// Generic codes.
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeNotFound     Code = "not_found"
	CodeUnauthorized Code = "unauthorized"
	CodeConflict     Code = "conflict"
	CodeUnavailable  Code = "unavailable"
	CodeInternal     Code = "internal"

	// Commitment primitives.
	CodeMalformedInput Code = "malformed_input"

	// Identity registry.
	CodeDuplicateIdentity Code = "duplicate_identity"
	CodeHandleExhaustion  Code = "handle_exhaustion"
	CodeAccessDenied      Code = "access_denied"

	// Proof engine. ProofPending is the only retryable code: resubmission
	// with the same interaction ID is safe.
	CodeProofPending Code = "proof_pending"

	// Reveal state machine.
	CodeUnauthorizedTrigger     Code = "unauthorized_trigger"
	CodeConcurrentReveal        Code = "concurrent_reveal_in_progress"
	CodeInsufficientReviewTime  Code = "insufficient_review_time"
	CodeMissingCountersignature Code = "missing_countersignature"
	CodeInvalidTransition       Code = "invalid_transition"
)

// Error is a coded domain error. It wraps an optional cause for %w chains.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a coded error with a cause.
func Wrap(code Code, message string, err error) error {
	return &Error{Code: code, Message: message, Err: err}
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// HasCode is an alias for Is kept for call-site readability in tests.
func HasCode(err error, code Code) bool { return Is(err, code) }

// CodeOf returns the outermost code, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Retryable reports whether the caller may safely retry the same request.
// Per the error taxonomy only transient infrastructure conditions qualify.
func Retryable(err error) bool {
	return Is(err, CodeProofPending) || Is(err, CodeUnavailable)
}

// ToHTTPStatus maps a code to its HTTP response status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInvalidInput, CodeMalformedInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeAccessDenied, CodeUnauthorizedTrigger, CodeMissingCountersignature:
		return http.StatusForbidden
	case CodeConflict, CodeDuplicateIdentity, CodeConcurrentReveal, CodeInvalidTransition:
		return http.StatusConflict
	case CodeInsufficientReviewTime:
		return http.StatusPreconditionFailed
	case CodeProofPending:
		return http.StatusAccepted
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeHandleExhaustion, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
