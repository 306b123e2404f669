package errors

import (
	stderrors "errors"
	"fmt"
)

// RecallError is the structured error type for amanrecall.
// It carries enough context for logging, CLI presentation and for
// callers deciding whether to degrade or abort.
type RecallError struct {
	// Code is the unique error code (e.g., "ERR_311_QUOTA_EXCEEDED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Provider, Validation, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *RecallError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RecallError) Unwrap() error {
	return e.Cause
}

// Is matches by code so errors.Is(err, errors.New(code, "", nil)) works.
func (e *RecallError) Is(target error) bool {
	if t, ok := target.(*RecallError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *RecallError) WithDetail(key, value string) *RecallError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *RecallError) WithSuggestion(suggestion string) *RecallError {
	e.Suggestion = suggestion
	return e
}

// New creates a new RecallError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *RecallError {
	return &RecallError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RecallError from an existing error.
func Wrap(code string, err error) *RecallError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is checks. Matching is by code only.
var (
	ErrEmptyInput          = New(ErrCodeEmptyInput, "input text is empty", nil)
	ErrQuotaExceeded       = New(ErrCodeQuotaExceeded, "provider quota exceeded", nil)
	ErrInvalidCredentials  = New(ErrCodeInvalidCredentials, "provider rejected credentials", nil)
	ErrRateLimited         = New(ErrCodeRateLimited, "provider rate limit hit", nil)
	ErrDimensionMismatch   = New(ErrCodeDimensionMismatch, "embedding dimension mismatch", nil)
	ErrInvalidScope        = New(ErrCodeInvalidScope, "invalid search scope", nil)
	ErrMissingOwner        = New(ErrCodeMissingOwner, "owner id is required", nil)
	ErrMissingConversation = New(ErrCodeMissingConversation, "conversation id is required for conversation scope", nil)
	ErrUnparseable         = New(ErrCodeUnparseable, "model output could not be parsed", nil)
	ErrCircuitOpen         = New(ErrCodeCircuitOpen, "circuit breaker is open", nil)
)

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *RecallError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StorageError creates a similarity store error.
func StorageError(message string, cause error) *RecallError {
	return New(ErrCodeStoreQuery, message, cause)
}

// NetworkError creates a network-related error.
// Network errors are typically retryable.
func NetworkError(message string, cause error) *RecallError {
	return New(ErrCodeNetworkTimeout, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *RecallError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *RecallError {
	return New(ErrCodeInternal, message, cause)
}

// As finds the first RecallError in err's chain.
func As(err error) (*RecallError, bool) {
	var re *RecallError
	if stderrors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if re, ok := As(err); ok {
		return re.Retryable
	}
	return false
}

// IsContractViolation reports whether err is a caller contract violation
// (validation or configuration) that must surface instead of being degraded.
func IsContractViolation(err error) bool {
	re, ok := As(err)
	if !ok {
		return false
	}
	return re.Category == CategoryValidation || re.Category == CategoryConfig
}

// GetCode extracts the error code from a RecallError.
// Returns empty string if not a RecallError.
func GetCode(err error) string {
	if re, ok := As(err); ok {
		return re.Code
	}
	return ""
}
