package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeNetwork represents origin unreachable, non-2xx status and timeouts
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeParsing represents HTML parsing errors
	ErrorTypeParsing ErrorType = "parsing"
	// ErrorTypeRateLimit represents rate limiting errors
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeCache represents cache-related errors
	ErrorTypeCache ErrorType = "cache"
	// ErrorTypePublisher represents publisher-related errors
	ErrorTypePublisher ErrorType = "publisher"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeStore represents store query or write failures
	ErrorTypeStore ErrorType = "store"
	// ErrorTypeCleanup represents retention cleanup failures
	ErrorTypeCleanup ErrorType = "cleanup"
)

// IngestError represents an ingestion error tagged with its origin
type IngestError struct {
	Type    ErrorType
	Source  string
	Message string
	Err     error
	Time    time.Time
}

// Error implements the error interface
func (e *IngestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s - %v", e.Summary(), e.Err)
	}
	return e.Summary()
}

// Summary formats the error without its wrapped cause
func (e *IngestError) Summary() string {
	if e.Source == "" {
		return fmt.Sprintf("[%s] %s", e.Type, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Source, e.Message)
}

// Unwrap returns the underlying error
func (e *IngestError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is retryable on the next cycle
func (e *IngestError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeNetwork, ErrorTypeStore:
		return true
	default:
		return false
	}
}

// IsType reports whether err (or anything it wraps) is a IngestError of type t
func IsType(err error, t ErrorType) bool {
	var ce *IngestError
	if stderrors.As(err, &ce) {
		return ce.Type == t
	}
	return false
}

// Message returns the summary of the outermost IngestError in err's chain,
// leaving driver and transport details to the logs. Other errors yield a
// generic text.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ie *IngestError
	if stderrors.As(err, &ie) {
		return ie.Summary()
	}
	return "internal error"
}

// New creates a new IngestError
func New(errType ErrorType, source, message string, err error) *IngestError {
	return &IngestError{
		Type:    errType,
		Source:  source,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewNetwork creates a new network error
func NewNetwork(source, message string, err error) *IngestError {
	return New(ErrorTypeNetwork, source, message, err)
}

// NewParsing creates a new parsing error
func NewParsing(source, message string, err error) *IngestError {
	return New(ErrorTypeParsing, source, message, err)
}

// NewRateLimit creates a new rate limit error
func NewRateLimit(source string, duration time.Duration) *IngestError {
	message := fmt.Sprintf("rate limited for %v", duration)
	return New(ErrorTypeRateLimit, source, message, nil)
}

// NewCache creates a new cache error
func NewCache(source, message string, err error) *IngestError {
	return New(ErrorTypeCache, source, message, err)
}

// NewPublisher creates a new publisher error
func NewPublisher(source, message string, err error) *IngestError {
	return New(ErrorTypePublisher, source, message, err)
}

// NewValidation creates a new validation error
func NewValidation(source, message string) *IngestError {
	return New(ErrorTypeValidation, source, message, nil)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *IngestError {
	return New(ErrorTypeConfiguration, "", message, err)
}

// NewStore creates a new store error
func NewStore(message string, err error) *IngestError {
	return New(ErrorTypeStore, "", message, err)
}

// NewCleanup creates a new cleanup error
func NewCleanup(message string, err error) *IngestError {
	return New(ErrorTypeCleanup, "", message, err)
}
