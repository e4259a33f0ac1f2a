package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatRateLimit    ErrorCategory = "rate_limit"   // Backend capacity exhausted
	ErrCatTransient    ErrorCategory = "transient"    // Network or 5xx failure
	ErrCatCritical     ErrorCategory = "critical"     // Unusable response content
	ErrCatVerification ErrorCategory = "verification" // Review pass rejected the result
	ErrCatEscalation   ErrorCategory = "escalation"   // Human attention required
	ErrCatValidation   ErrorCategory = "validation"   // Invalid input
	ErrCatTimeout      ErrorCategory = "timeout"      // Operation timed out
	ErrCatState        ErrorCategory = "state"        // Invalid state transition
	ErrCatNotFound     ErrorCategory = "not_found"    // Resource not found
	ErrCatAuth         ErrorCategory = "auth"         // Authentication failure
	ErrCatInternal     ErrorCategory = "internal"     // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrRateLimit creates a rate limit error for a model. A zero retryAfter
// means the provider did not say.
func ErrRateLimit(model string, retryAfter time.Duration) *DomainError {
	e := &DomainError{
		Category:  ErrCatRateLimit,
		Code:      CodeRateLimited,
		Message:   fmt.Sprintf("model %s is rate limited", model),
		Retryable: false,
	}
	e.WithDetail("model", model)
	if retryAfter > 0 {
		e.WithDetail("retry_after", retryAfter)
	}
	return e
}

// ErrTransient creates a retryable call failure.
func ErrTransient(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTransient,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrCritical creates a critical failure detected from response content.
func ErrCritical(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatCritical,
		Code:      CodeCriticalResponse,
		Message:   message,
		Retryable: false,
	}
}

// ErrVerification creates a verification failure carrying the issue list.
func ErrVerification(issues []string) *DomainError {
	msg := "verification failed"
	if len(issues) > 0 {
		msg = "verification failed: " + strings.Join(issues, "; ")
	}
	return (&DomainError{
		Category:  ErrCatVerification,
		Code:      CodeVerificationFailed,
		Message:   msg,
		Retryable: false,
	}).WithDetail("issues", issues)
}

// ErrEscalation creates a terminal escalation error.
func ErrEscalation(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatEscalation,
		Code:      CodeEscalated,
		Message:   message,
		Retryable: false,
	}
}

// ErrFallbackExhausted is raised when the primary expert and every fallback
// were rate limited.
func ErrFallbackExhausted(attempted []string) *DomainError {
	return (&DomainError{
		Category:  ErrCatRateLimit,
		Code:      CodeFallbackExhausted,
		Message:   fmt.Sprintf("all experts rate limited, attempted: %s", strings.Join(attempted, ", ")),
		Retryable: false,
	}).WithDetail("attempted", append([]string(nil), attempted...))
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrAuth creates an authentication error.
func ErrAuth(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAuth,
		Code:      "AUTH_FAILED",
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// IsRateLimit reports whether err was classified as a capacity failure.
func IsRateLimit(err error) bool {
	return IsCategory(err, ErrCatRateLimit)
}

// RetryAfter returns the provider supplied retry-after duration, if any.
func RetryAfter(err error) time.Duration {
	var domErr *DomainError
	if !errors.As(err, &domErr) || domErr.Details == nil {
		return 0
	}
	if d, ok := domErr.Details["retry_after"].(time.Duration); ok {
		return d
	}
	return 0
}

// Attempted returns the expert ids named by a fallback exhaustion error.
func Attempted(err error) []string {
	var domErr *DomainError
	if !errors.As(err, &domErr) || domErr.Details == nil {
		return nil
	}
	ids, _ := domErr.Details["attempted"].([]string)
	return ids
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeRateLimited        = "RATE_LIMITED"
	CodeFallbackExhausted  = "FALLBACK_EXHAUSTED"
	CodeCriticalResponse   = "CRITICAL_RESPONSE"
	CodeVerificationFailed = "VERIFICATION_FAILED"
	CodeEscalated          = "ESCALATED"
	CodeBackendFailed      = "BACKEND_FAILED"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeCancelled          = "CANCELLED"
	CodeAlreadyRunning     = "ALREADY_RUNNING"

	// Validation error codes
	CodeEmptyPrompt   = "EMPTY_PROMPT"
	CodePromptTooLong = "PROMPT_TOO_LONG"
	CodeUnknownExpert = "UNKNOWN_EXPERT"
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeInvalidInput  = "INVALID_TOOL_INPUT"
)

// MaxPromptLength is the maximum allowed prompt length.
const MaxPromptLength = 200000
