// Package apperrors defines the classified error kinds shared across the
// investigation core. Kinds, not Go types, are the unit of classification
// — every sentinel below is wrapped with errors.Is-compatible context via
// fmt.Errorf("...: %w", err).
package apperrors

import (
	"errors"
	"net/http"
)

// Sentinel kinds. Callers compare with errors.Is, never by reading
// err.Error() text.
var (
	// ErrInvalidRequest — malformed or empty input. 400, never retried.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound — task/session/approval key unknown. 404.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyTerminal — cancel/mutate against a task that already
	// reached a terminal status. 400.
	ErrAlreadyTerminal = errors.New("already terminal")

	// ErrToolDenied — policy refused a mutating tool (recon mode or
	// deny-list). Recorded as an error event; the supervisor may continue.
	ErrToolDenied = errors.New("tool denied by policy")

	// ErrToolError — transport or remote error from an external
	// integration. Recorded as an error event; the supervisor may retry.
	ErrToolError = errors.New("tool execution error")

	// ErrApprovalTimeout — an approval rendezvous exceeded its deadline.
	// Treated identically to a deny decision.
	ErrApprovalTimeout = errors.New("approval timed out")

	// ErrCancelled — cooperative cancellation observed at a suspension
	// point.
	ErrCancelled = errors.New("cancelled")

	// ErrInternal — storage failure or invariant violation. Terminal:
	// the task transitions to failed.
	ErrInternal = errors.New("internal error")

	// ErrAlreadyResolved — a signal/approval entry was already resolved
	// when a second resolution was attempted (duplicate reply).
	ErrAlreadyResolved = errors.New("already resolved")
)

// HTTPStatus maps a classified error to the status code the API layer
// should respond with, per the taxonomy table in the error handling
// design. Falls back to 500 for anything unrecognized.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyTerminal):
		return http.StatusBadRequest
	case errors.Is(err, ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, ErrApprovalTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, ErrToolDenied), errors.Is(err, ErrToolError):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrCancelled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Kind returns the event-payload-facing kind string for a classified
// error, used when recording `error` events (§7).
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "InvalidRequest"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrAlreadyTerminal):
		return "AlreadyTerminal"
	case errors.Is(err, ErrToolDenied):
		return "ToolDenied"
	case errors.Is(err, ErrToolError):
		return "ToolError"
	case errors.Is(err, ErrApprovalTimeout):
		return "ApprovalTimeout"
	case errors.Is(err, ErrCancelled):
		return "Cancelled"
	default:
		return "Internal"
	}
}
