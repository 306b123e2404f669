// Package errors provides structured error handling for amanrecall.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors
//   - 3XX: Provider and network errors
//   - 4XX: Validation errors (caller contract violations)
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates similarity store and file errors.
	CategoryStorage Category = "STORAGE"
	// CategoryProvider indicates embedding or reasoning backend errors.
	CategoryProvider Category = "PROVIDER"
	// CategoryValidation indicates caller contract violations.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeUnknownBackend = "ERR_103_UNKNOWN_BACKEND"

	// Storage errors (200-299)
	ErrCodeStoreUnavailable = "ERR_201_STORE_UNAVAILABLE"
	ErrCodeStoreQuery       = "ERR_202_STORE_QUERY"
	ErrCodeStoreCorrupt     = "ERR_203_STORE_CORRUPT"
	ErrCodeFileNotFound     = "ERR_204_FILE_NOT_FOUND"

	// Provider errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeQuotaExceeded      = "ERR_311_QUOTA_EXCEEDED"
	ErrCodeInvalidCredentials = "ERR_312_INVALID_CREDENTIALS"
	ErrCodeRateLimited        = "ERR_313_RATE_LIMITED"
	ErrCodeCircuitOpen        = "ERR_314_CIRCUIT_OPEN"

	// Validation errors (400-499)
	ErrCodeInvalidInput        = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch   = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeEmptyInput          = "ERR_403_EMPTY_INPUT"
	ErrCodeQueryEmpty          = "ERR_404_QUERY_EMPTY"
	ErrCodeInvalidScope        = "ERR_407_INVALID_SCOPE"
	ErrCodeMissingOwner        = "ERR_408_MISSING_OWNER"
	ErrCodeMissingConversation = "ERR_409_MISSING_CONVERSATION"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeIngestFailed    = "ERR_505_INGEST_FAILED"
	ErrCodeReasoningFailed = "ERR_506_REASONING_FAILED"
	ErrCodeUnparseable     = "ERR_507_UNPARSEABLE"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "311" from "ERR_311_QUOTA_EXCEEDED"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryProvider
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStoreCorrupt, ErrCodeInvalidCredentials:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Quota exhaustion is not retryable: waiting a few seconds will not refill it.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeRateLimited, ErrCodeStoreUnavailable:
		return true
	default:
		return false
	}
}
