package core

import (
	"fmt"
)

// ErrorCategory classifies the type of error for fallback decisions and reporting
type ErrorCategory int

const (
	ErrCategoryNone        ErrorCategory = iota // No error
	ErrCategoryValidation                       // Malformed finder input, bad arguments
	ErrCategoryUnsupported                      // Finder kind not expressible by the backend
	ErrCategoryConnection                       // Session could not be established or was lost
	ErrCategoryTimeout                          // A bounded wait expired
	ErrCategoryLogical                          // Backend ran the command and reported failure
	ErrCategoryDiscovery                        // No VM service endpoint could be located
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryValidation:
		return "validation"
	case ErrCategoryUnsupported:
		return "unsupported"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryLogical:
		return "logical"
	case ErrCategoryDiscovery:
		return "discovery"
	default:
		return "unknown"
	}
}

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: element_not_found, request_timeout, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Validation errors — surfaced immediately, never retried
	ErrInvalidFinder = &ExecutionError{
		Category: ErrCategoryValidation,
		Code:     "invalid_finder",
		Message:  "no recognized finder key present",
	}
	ErrInvalidArgument = &ExecutionError{
		Category: ErrCategoryValidation,
		Code:     "invalid_argument",
		Message:  "invalid argument",
	}

	// Unsupported — backend skipped, does not count as a failed attempt
	ErrUnsupportedFinder = &ExecutionError{
		Category: ErrCategoryUnsupported,
		Code:     "unsupported_finder",
		Message:  "finder kind not supported by this backend",
	}
	ErrUnsupportedOperation = &ExecutionError{
		Category: ErrCategoryUnsupported,
		Code:     "unsupported_operation",
		Message:  "operation not supported by this backend",
	}

	// Connection errors — the backend's failure for this attempt, triggers fallback
	ErrNotConnected = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "not_connected",
		Message:  "not connected",
	}
	ErrConnectFailed = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "connect_failed",
		Message:  "could not establish VM service session",
	}
	ErrNoIsolates = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "no_isolates",
		Message:  "VM reported no isolates",
	}
	ErrExtensionMissing = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "extension_missing",
		Message:  "Flutter Driver extension not enabled in target isolate",
	}

	// Timeout errors — session stays Ready, only this request is abandoned
	ErrRequestTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "request_timeout",
		Message:  "request timed out",
	}
	ErrConnectTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "connect_timeout",
		Message:  "connection attempt timed out",
	}

	// Logical failures — well-formed response reporting the action did not apply
	ErrElementNotFound = &ExecutionError{
		Category: ErrCategoryLogical,
		Code:     "element_not_found",
		Message:  "element not found",
	}
	ErrElementNotVisible = &ExecutionError{
		Category: ErrCategoryLogical,
		Code:     "element_not_visible",
		Message:  "element not visible",
	}
	ErrAppNotRunning = &ExecutionError{
		Category: ErrCategoryLogical,
		Code:     "app_not_running",
		Message:  "app not running on device",
	}

	// Discovery errors — Driver unavailable for this attempt, Maestro still proceeds
	ErrNoEndpoint = &ExecutionError{
		Category: ErrCategoryDiscovery,
		Code:     "no_endpoint",
		Message:  "no VM service endpoint found",
	}
	ErrForwardFailed = &ExecutionError{
		Category: ErrCategoryDiscovery,
		Code:     "forward_failed",
		Message:  "could not forward VM service port",
	}

	// Terminal aggregate
	ErrAllBackendsFailed = &ExecutionError{
		Category: ErrCategoryLogical,
		Code:     "all_backends_failed",
		Message:  "all backends failed",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}
