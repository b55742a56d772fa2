package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Deep link capability
	ErrCodeLinkInvalid ErrorCode = "LINK_INVALID"

	// QR connection flow
	ErrCodeConnected             ErrorCode = "CONNECTED"
	ErrCodeQRPending             ErrorCode = "QR_PENDING"
	ErrCodeQRFetchFailed         ErrorCode = "QR_FETCH_FAILED"
	ErrCodeInstancePrepareFailed ErrorCode = "INSTANCE_PREPARE_FAILED"

	// Pairing flow
	ErrCodePairingPending         ErrorCode = "PAIRING_PENDING"
	ErrCodePairingInvalidResponse ErrorCode = "PAIRING_INVALID_RESPONSE"
	ErrCodePairingConnectFailed   ErrorCode = "PAIRING_CONNECT_FAILED"
	ErrCodePairingSyncFailed      ErrorCode = "PAIRING_SYNC_FAILED"

	// Upstream API reachability
	ErrCodeConnectionRefused ErrorCode = "CONNECTION_REFUSED"
	ErrCodeAPIUnavailable    ErrorCode = "API_UNAVAILABLE"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Security
	ErrCodeForbidden ErrorCode = "FORBIDDEN"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeExternal ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func LinkInvalid() *AppError {
	return New(ErrCodeLinkInvalid, "Connection link is invalid or has expired")
}

func Connected() *AppError {
	return New(ErrCodeConnected, "Instance is already connected")
}

func QRPending() *AppError {
	return New(ErrCodeQRPending, "QR code is not ready yet")
}

func QRFetchFailed() *AppError {
	return New(ErrCodeQRFetchFailed, "Could not fetch a QR code")
}

func InstancePrepareFailed() *AppError {
	return New(ErrCodeInstancePrepareFailed, "Could not prepare the instance")
}

func PairingPending() *AppError {
	return New(ErrCodePairingPending, "Pairing code is not ready yet")
}

func PairingInvalidResponse() *AppError {
	return New(ErrCodePairingInvalidResponse, "Unexpected response while requesting a pairing code")
}

func PairingConnectFailed() *AppError {
	return New(ErrCodePairingConnectFailed, "Could not request a pairing code")
}

func PairingSyncFailed() *AppError {
	return New(ErrCodePairingSyncFailed, "Could not refresh the pairing code")
}

func ConnectionRefused() *AppError {
	return New(ErrCodeConnectionRefused, "Messaging server is unreachable")
}

func APIUnavailable() *AppError {
	return New(ErrCodeAPIUnavailable, "Messaging server is not responding correctly")
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func AlreadyExists(resource string) *AppError {
	return New(ErrCodeAlreadyExists, fmt.Sprintf("%s already exists", resource))
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func External(service string, cause error) *AppError {
	return Wrap(ErrCodeExternal, fmt.Sprintf("External service error: %s", service), cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsPending reports whether the code is an expected transient condition
// rather than a failure. Pending states must never surface as error toasts
// or increment failure counters.
func IsPending(code ErrorCode) bool {
	return code == ErrCodeQRPending || code == ErrCodePairingPending
}
