package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the recommended HTTP status code for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Detail returns a string detail value, or "" when absent.
func (e *AppError) Detail(key string) string {
	if e.Details == nil {
		return ""
	}
	if s, ok := e.Details[key].(string); ok {
		return s
	}
	return ""
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// --- Connectivity constructors ---

// TransportError creates an AppError for a connection that failed to open or dropped abnormally.
func TransportError(url string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeTransport, Message: "The connection failed or dropped unexpectedly.",
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true, Cause: cause,
		Details: map[string]any{"url": url},
	}
}

// LoaderTierError creates an AppError for a single failed resolution tier.
func LoaderTierError(tier, id string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeLoaderTier, Message: fmt.Sprintf("Tier %s could not load %s.", tier, id),
		HTTPStatus: http.StatusBadGateway, Retryable: true, Cause: cause,
		Details: map[string]any{"tier": tier, "id": id},
	}
}

// ClientConstructionFailed creates an AppError for a backend-client factory failure.
func ClientConstructionFailed(key string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeClientConstruction, Message: fmt.Sprintf("Unable to construct the %s client.", key),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true, Cause: cause,
		Details: map[string]any{"key": key},
	}
}

// NotFound creates a new AppError for a resource that was not found.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("The requested %s was not found.", resource),
		HTTPStatus: http.StatusNotFound, Retryable: false, Details: details,
	}
}

// ServiceUnavailable creates a new AppError for a service that is temporarily unavailable.
func ServiceUnavailable(service string) *AppError {
	return &AppError{
		Code: ErrCodeServiceUnavailable, Message: fmt.Sprintf("The %s is temporarily unavailable. Please try again.", service),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"service": service},
	}
}

// Timeout creates a new AppError for an operation that timed out.
func Timeout(operation string) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: "The operation took too long.",
		HTTPStatus: http.StatusGatewayTimeout, Retryable: true,
		Details: map[string]any{"operation": operation},
	}
}

// MaxRetriesExceeded creates an AppError reporting an exhausted retry budget.
func MaxRetriesExceeded(attempts int, last error) *AppError {
	return &AppError{
		Code: ErrCodeMaxRetriesExceeded, Message: fmt.Sprintf("Gave up after %d attempts.", attempts),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true, Cause: last,
		Details: map[string]any{"attempts": attempts},
	}
}

// MaxReconnectAttemptsExceeded creates an AppError reporting an exhausted reconnect budget.
func MaxReconnectAttemptsExceeded(url string, attempts int, last error) *AppError {
	return &AppError{
		Code: ErrCodeMaxReconnectAttempts, Message: fmt.Sprintf("Reconnect gave up after %d attempts.", attempts),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true, Cause: last,
		Details: map[string]any{"url": url, "attempts": attempts, "scope": "transport"},
	}
}

// --- Structural constructors ---

// ConfigurationIssue creates an AppError for an absent or malformed setting.
func ConfigurationIssue(setting, reason string) *AppError {
	return &AppError{
		Code: ErrCodeConfiguration, Message: fmt.Sprintf("Configuration %s: %s", setting, reason),
		HTTPStatus: http.StatusInternalServerError, Retryable: false,
		Details: map[string]any{"setting": setting},
	}
}

// MissingField creates a new AppError for a missing required field.
func MissingField(field string) *AppError {
	return &AppError{
		Code: ErrCodeMissingField, Message: fmt.Sprintf("Missing required field: %s", field),
		HTTPStatus: http.StatusBadRequest, Retryable: false,
		Details: map[string]any{"field": field},
	}
}

// InvalidInput creates a new AppError for invalid input.
func InvalidInput(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidInput, Message: fmt.Sprintf("Invalid input: %s", reason),
		HTTPStatus: http.StatusBadRequest, Retryable: false, Details: details,
	}
}

// Validation creates a new AppError for validation errors.
func Validation(message string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidInput, Message: message,
		HTTPStatus: http.StatusBadRequest, Retryable: false,
	}
}

// Internal creates a new AppError for an internal error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred.",
		HTTPStatus: http.StatusInternalServerError, Retryable: false, Cause: cause,
	}
}

// Wrap converts any error into an AppError. Errors that already carry an
// AppError in their chain are returned as that AppError.
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}
