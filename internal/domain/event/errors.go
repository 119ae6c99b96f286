package event

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when an operation addresses an id that is not stored.
var ErrNotFound = errors.New("event not found")

// ErrMalformedInput marks codec input that should have been rejected by validation.
// It is a defect, never a user-facing field error.
var ErrMalformedInput = errors.New("malformed date/time input")

// Field error codes.
const (
	CodeRequired      = "required"
	CodeTooLong       = "too_long"
	CodeInvalidFormat = "invalid_format"
)

// FieldError is one violation on one input field.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError carries every field violation found in one input.
type ValidationError struct {
	Fields []FieldError
}

// Error implements error.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid event: " + strings.Join(parts, "; ")
}

// Has reports whether field has at least one violation.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}
