// Package apierror defines the error envelope returned on every 4xx/5xx
// response. Handlers never pass driver or gateway errors through raw;
// everything client-facing goes through these types so internals
// (SQL, stack traces, gateway URLs) stay out of responses.
package apierror

import "fmt"

// APIError is the canonical envelope for a single-message error.
type APIError struct {
	Detail string `json:"detail"`
}

func New(msg string) *APIError {
	return &APIError{Detail: msg}
}

func Newf(format string, args ...any) *APIError {
	return &APIError{Detail: fmt.Sprintf(format, args...)}
}

// ValidationError carries per-field failures from request validation.
type ValidationError struct {
	Detail string            `json:"detail"`
	Fields map[string]string `json:"fields"`
}

func NewValidation(fields map[string]string) *ValidationError {
	return &ValidationError{Detail: "Validation failed", Fields: fields}
}
