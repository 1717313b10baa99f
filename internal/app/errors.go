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

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

// fieldErrors collects per-field validation messages in the shape clients
// get back under "details".
type fieldErrors map[string][]string

func (f fieldErrors) add(field, message string) {
	f[field] = append(f[field], message)
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request", map[string][]string(f))
}

func validationError(field, message string) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request", map[string][]string{field: {message}})
}
