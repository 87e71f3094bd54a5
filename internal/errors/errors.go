// Package errors defines the application error type and the JSON envelope
// the HTTP surface speaks. Codes are stable strings; callers branch on the
// code, never on message text.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeConflict           = "CONFLICT"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeAdmissionRejected  = "ADMISSION_REJECTED"
)

// AppError carries a stable code and the HTTP status it maps to.
type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New builds an AppError with an explicit code and status.
func New(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

// NotFound reports a missing resource.
func NotFound(message string) *AppError {
	return New(CodeNotFound, message, http.StatusNotFound)
}

// InvalidArgument reports a malformed or rejected client input.
func InvalidArgument(message string) *AppError {
	return New(CodeInvalidArgument, message, http.StatusBadRequest)
}

// AdmissionRejected reports a submission refused by the policy chain.
// It is a client error: the payload was never accepted.
func AdmissionRejected(message string) *AppError {
	return New(CodeAdmissionRejected, message, http.StatusUnprocessableEntity)
}

// Internal wraps an unexpected server-side failure.
func Internal(err error) *AppError {
	return &AppError{Code: CodeInternal, Message: "internal error", Status: http.StatusInternalServerError, Err: err}
}

// ErrorBody is the inner object of the wire envelope.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse is the JSON envelope every error response uses.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// WriteError writes the envelope with the given status.
func WriteError(w http.ResponseWriter, status int, body ErrorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: body})
}

// RespondWithError maps err to the wire envelope. An *AppError keeps its
// code and status; anything else is an opaque internal error.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = Internal(err)
	}
	WriteError(w, appErr.Status, ErrorBody{
		Code:    appErr.Code,
		Message: appErr.Message,
	})
}
