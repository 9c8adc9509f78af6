// Package handlers provides the HTTP API handlers for vodarr.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// ErrorDetail is the inner error object every failing endpoint returns.
type ErrorDetail struct {
	// Code is a stable machine-readable kind: validation, unauthorized,
	// not_found, conflict, rate_limited, capacity, internal.
	Code string `json:"code"`

	// Message is the human-readable cause.
	Message string `json:"message"`

	// Field names the offending request field for validation errors.
	Field string `json:"field,omitempty"`
}

// ErrorResponse is the error envelope: {"error": {...}}.
type ErrorResponse struct {
	status int

	Err ErrorDetail `json:"error"`
}

// Error implements the error interface.
func (e *ErrorResponse) Error() string { return e.Err.Message }

// GetStatus implements huma.StatusError.
func (e *ErrorResponse) GetStatus() int { return e.status }

// ContentType keeps error bodies on plain application/json rather than
// problem+json; clients parse one shape for every response.
func (e *ErrorResponse) ContentType(_ string) string { return "application/json" }

// codeFor maps an HTTP status to the stable error code.
func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusServiceUnavailable:
		return "capacity"
	default:
		return "internal"
	}
}

// init replaces huma's problem+json error model with the envelope.
// Huma reports body schema violations as 422; those collapse into the
// validation code at 400 so clients see a single rejection status.
func init() {
	huma.NewError = func(status int, message string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}

		e := &ErrorResponse{status: status}
		e.Err.Code = codeFor(status)
		e.Err.Message = message

		for _, err := range errs {
			if err == nil {
				continue
			}
			if e.Err.Message == "" {
				e.Err.Message = err.Error()
			}
			if d, ok := err.(huma.ErrorDetailer); ok && e.Err.Field == "" {
				if loc := d.ErrorDetail().Location; strings.HasPrefix(loc, "body.") {
					e.Err.Field = strings.TrimPrefix(loc, "body.")
				}
			}
		}

		return e
	}
}

// validationError builds a 400 with the offending field named.
func validationError(field, message string) error {
	return &ErrorResponse{
		status: http.StatusBadRequest,
		Err:    ErrorDetail{Code: "validation", Message: message, Field: field},
	}
}

// writeError emits the envelope from raw (non-huma) handlers.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Err: ErrorDetail{Code: codeFor(status), Message: message},
	})
}
