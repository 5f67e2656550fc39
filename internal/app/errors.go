package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func circularDependency() *DomainError {
	return domainError(http.StatusBadRequest, "CIRCULAR_DEPENDENCY",
		"Invalid move - would create circular dependency", nil)
}

// validationError aggregates every field problem into one response; the
// details payload maps field name to its list of messages.
func validationError(fields map[string][]string) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", fields)
}

// fieldErrors collects per-field validation messages.
type fieldErrors map[string][]string

func (f fieldErrors) add(field, message string) {
	f[field] = append(f[field], message)
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return validationError(f)
}
