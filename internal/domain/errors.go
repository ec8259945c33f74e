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
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeEmbedding        = "EMBEDDING_ERROR"
	ErrCodeVectorStore      = "VECTOR_STORE_ERROR"
	ErrCodeMetadataStore    = "METADATA_STORE_ERROR"
	ErrCodeArchiveStore     = "ARCHIVE_STORE_ERROR"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
)

// Validation errors
var (
	ErrEmptyContent         = NewDomainError(ErrCodeValidation, "document content is empty")
	ErrEmptyQuery           = NewDomainError(ErrCodeValidation, "search query is empty")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrDocumentVectorsNotFound = NewDomainError(ErrCodeNotFound, "document vector metadata not found")
)

// EmbeddingMismatchError reports a violated count or shape invariant between
// requested texts and returned embeddings.
type EmbeddingMismatchError struct {
	Expected int
	Got      int
	Reason   string
}

func (e *EmbeddingMismatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("embedding mismatch: expected %d embeddings, got %d (%s)", e.Expected, e.Got, e.Reason)
	}
	return fmt.Sprintf("embedding mismatch: expected %d embeddings, got %d", e.Expected, e.Got)
}
