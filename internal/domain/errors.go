package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain error codes. Provider rate limits and outages never
// surface here: the answer pipeline absorbs them into degraded answers.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrEmptyQuestion     = NewDomainError(ErrCodeValidation, "question is required")
	ErrUnknownSourceKind = NewDomainError(ErrCodeValidation, "unknown source kind")
)

// Data integrity errors, contained at single-chunk granularity inside retrieval
var (
	ErrEmptyEmbedding = NewDomainError(ErrCodeValidation, "embedding is empty")
)
