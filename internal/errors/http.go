// Package errors defines the HTTP error envelope and the mapping from
// application error categories to status codes.
//
// Synchronous request failures become structured envelopes with a
// machine-readable code and a human-readable message. Background execution
// failures never reach this package - they are recorded on the job itself.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// Category classifies a request failure. Categories map 1:1 to HTTP status
// codes and to the stable error codes clients switch on.
type Category string

const (
	// CategoryInvalid covers unparseable or out-of-range client input.
	CategoryInvalid Category = "INVALID_ARGUMENT"

	// CategoryNotFound covers unknown job ids, paddocks, and empty archives.
	CategoryNotFound Category = "NOT_FOUND"

	// CategoryConflict covers operations against a job in the wrong state.
	CategoryConflict Category = "CONFLICT"

	// CategoryConfig covers missing required server configuration.
	CategoryConfig Category = "CONFIG_ERROR"

	// CategoryUnavailable covers unreachable collaborators during request
	// handling (storage, compute backend).
	CategoryUnavailable Category = "SERVICE_UNAVAILABLE"

	// CategoryInternal is the fallback for everything else.
	CategoryInternal Category = "INTERNAL_ERROR"
)

// Error is a categorized application error carried through handler code.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a categorized error with no cause.
func New(category Category, message string) *Error {
	return &Error{Category: category, Message: message}
}

// Wrap creates a categorized error wrapping a cause.
func Wrap(category Category, message string, err error) *Error {
	return &Error{Category: category, Message: message, Err: err}
}

// HTTPErrorResponse is the JSON envelope written for all error responses.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// HTTPErrorDetail carries the envelope body.
type HTTPErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// StatusFor maps a category to its HTTP status code.
func StatusFor(category Category) int {
	switch category {
	case CategoryInvalid:
		return http.StatusBadRequest
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryConflict:
		return http.StatusConflict
	case CategoryConfig:
		return http.StatusInternalServerError
	case CategoryUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondWithError writes err as a JSON envelope. *Error values keep their
// category; anything else becomes INTERNAL_ERROR with its message hidden
// behind a generic string.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = &Error{Category: CategoryInternal, Message: "internal error"}
	}

	WriteEnvelope(w, r, string(appErr.Category), appErr.Message, StatusFor(appErr.Category), nil)
}

// WriteEnvelope writes an explicit code/message/status envelope.
func WriteEnvelope(w http.ResponseWriter, r *http.Request, code, message string, status int, details map[string]any) {
	resp := HTTPErrorResponse{
		Error: HTTPErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
	if r != nil {
		resp.Error.RequestID = middleware.GetReqID(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
