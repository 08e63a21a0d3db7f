// ABOUTME: Standardized error response types and helpers for HTTP handlers
// ABOUTME: Provides consistent error formatting across all extensions

package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the standardized error response structure used across
// the admin API and extension endpoints.
type ErrorResponse struct {
	Code    string `json:"code"`              // Machine-readable error code (e.g., "invalid_request", "not_found")
	Message string `json:"message"`           // Human-readable error message
	Status  int    `json:"status"`            // HTTP status code
	Field   string `json:"field,omitempty"`   // Optional: field that caused the error
	Details string `json:"details,omitempty"` // Optional: additional error details
}

// Envelope is the response body for every user-triggered mutation on an
// extension endpoint.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// WriteError writes a standardized error response to the HTTP response writer.
//
// Example:
//
//	WriteError(w, http.StatusBadRequest, "invalid_cron", "Cron expression is invalid")
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeErrorResponse(w, ErrorResponse{
		Code:    code,
		Message: message,
		Status:  status,
	})
}

// WriteErrorWithField writes a standardized error response with a field
// reference, for validation errors.
func WriteErrorWithField(w http.ResponseWriter, status int, code, message, field string) {
	writeErrorResponse(w, ErrorResponse{
		Code:    code,
		Message: message,
		Status:  status,
		Field:   field,
	})
}

// WriteErrorWithDetails writes a standardized error response with
// additional context.
func WriteErrorWithDetails(w http.ResponseWriter, status int, code, message, details string) {
	writeErrorResponse(w, ErrorResponse{
		Code:    code,
		Message: message,
		Status:  status,
		Details: details,
	})
}

// WriteEnvelope writes the {success, message} envelope with HTTP 200.
// Failure of the operation is carried in the body, not the status code.
func WriteEnvelope(w http.ResponseWriter, success bool, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Envelope{Success: success, Message: message})
}

func writeErrorResponse(w http.ResponseWriter, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	json.NewEncoder(w).Encode(resp)
}

// CommonErrorCodes defines standard error codes used across the runtime
const (
	// Client errors (4xx)
	ErrInvalidRequest   = "invalid_request"
	ErrInvalidBody      = "invalid_request_body"
	ErrMissingField     = "missing_field"
	ErrValidationFailed = "validation_failed"
	ErrNotFound         = "not_found"
	ErrUnauthorized     = "unauthorized"
	ErrForbidden        = "forbidden"
	ErrConflict         = "conflict"

	// Server errors (5xx)
	ErrInternal           = "internal_error"
	ErrDatabaseError      = "database_error"
	ErrServiceUnavailable = "service_unavailable"
	ErrNotImplemented     = "not_implemented"
)
