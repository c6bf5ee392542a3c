package users

import (
	"errors"
	"strings"
)

// FieldError is one problem with one input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every problem found in a submission so the caller
// can show them all at once.
type ValidationError struct {
	Problems []FieldError `json:"problems"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.Field + " " + p.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a problem.
func (e *ValidationError) Add(field, message string) {
	e.Problems = append(e.Problems, FieldError{Field: field, Message: message})
}

// Merge appends the problems from err when it is a *ValidationError.
// It reports whether err was merged.
func (e *ValidationError) Merge(err error) bool {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return false
	}
	e.Problems = append(e.Problems, ve.Problems...)
	return true
}

// Err returns e, or nil when no problem was recorded.
func (e *ValidationError) Err() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// Has reports whether field has at least one problem.
func (e *ValidationError) Has(field string) bool {
	for _, p := range e.Problems {
		if p.Field == field {
			return true
		}
	}
	return false
}

func fieldError(field, message string) *ValidationError {
	return &ValidationError{Problems: []FieldError{{Field: field, Message: message}}}
}
