package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for requests.
var (
	// ErrSourceRequired indicates the source field is empty.
	ErrSourceRequired = errors.New("source is required")

	// ErrHWAccelUnavailable indicates an explicitly requested encoder
	// family is not present on this host.
	ErrHWAccelUnavailable = errors.New("requested hw_accel is not available on this host")
)

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var v ErrValidation
	if errors.As(err, &v) {
		return true
	}
	return errors.Is(err, ErrSourceRequired) || errors.Is(err, ErrHWAccelUnavailable)
}
