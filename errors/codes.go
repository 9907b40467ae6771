package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Connectivity errors (retryable)
const (
	// ErrCodeTransport indicates the duplex connection failed to open or dropped abnormally.
	ErrCodeTransport ErrorCode = "TRANSPORT_ERROR"
	// ErrCodeLoaderTier indicates a single resolution tier failed or timed out.
	ErrCodeLoaderTier ErrorCode = "LOADER_TIER_ERROR"
	// ErrCodeClientConstruction indicates a backend-client factory failed.
	ErrCodeClientConstruction ErrorCode = "CLIENT_CONSTRUCTION_FAILED"
	// ErrCodeServiceUnavailable indicates the remote service is temporarily unavailable.
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// Budget exhaustion errors
const (
	// ErrCodeMaxRetriesExceeded indicates a retry budget was exhausted.
	ErrCodeMaxRetriesExceeded ErrorCode = "MAX_RETRIES_EXCEEDED"
	// ErrCodeMaxReconnectAttempts indicates the reconnect budget was exhausted.
	ErrCodeMaxReconnectAttempts ErrorCode = "MAX_RECONNECT_ATTEMPTS_EXCEEDED"
)

// Structural errors (never retried)
const (
	// ErrCodeConfiguration indicates a required setting is absent or malformed.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ISSUE"
	// ErrCodeMissingField indicates a required field is missing.
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeTransport:            true,
	ErrCodeLoaderTier:           true,
	ErrCodeClientConstruction:   true,
	ErrCodeServiceUnavailable:   true,
	ErrCodeTimeout:              true,
	ErrCodeMaxRetriesExceeded:   true,
	ErrCodeMaxReconnectAttempts: true,
	ErrCodeInternal:             false,
}

var structuralCodes = map[ErrorCode]bool{
	ErrCodeConfiguration: true,
	ErrCodeMissingField:  true,
	ErrCodeInvalidInput:  true,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}

// IsStructuralCode returns true for codes that no amount of retrying can fix.
func IsStructuralCode(code ErrorCode) bool {
	return structuralCodes[code]
}
