package httputil

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/klimadev/chamalead-sub000/internal/errors"
)

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ActionResponse is the envelope returned by every action endpoint.
type ActionResponse struct {
	Success   bool                `json:"success"`
	Data      any                 `json:"data,omitempty"`
	Message   string              `json:"message,omitempty"`
	ErrorCode apperrors.ErrorCode `json:"errorCode,omitempty"`
}

// WriteSuccess writes a successful action envelope.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, ActionResponse{Success: true, Data: data})
}

// WriteError writes an AppError as an action envelope with the matching
// HTTP status. Pending conditions deliberately go out as 200: the client
// keeps polling and must not treat them as failures.
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		// Wrap unknown errors as internal errors
		appErr = apperrors.Internal("An unexpected error occurred")
	}

	WriteJSON(w, statusFromCode(appErr.Code), ActionResponse{
		Success:   false,
		Message:   appErr.Message,
		ErrorCode: appErr.Code,
	})
}

// statusFromCode maps ErrorCode to HTTP status code
func statusFromCode(code apperrors.ErrorCode) int {
	switch code {
	// 200 OK: transient, keep polling
	case apperrors.ErrCodeQRPending,
		apperrors.ErrCodePairingPending,
		apperrors.ErrCodeConnected:
		return http.StatusOK

	// 400 Bad Request
	case apperrors.ErrCodeValidation,
		apperrors.ErrCodeInvalidInput,
		apperrors.ErrCodeMissingRequired:
		return http.StatusBadRequest

	// 401 Unauthorized
	case apperrors.ErrCodeLinkInvalid:
		return http.StatusUnauthorized

	// 403 Forbidden
	case apperrors.ErrCodeForbidden:
		return http.StatusForbidden

	// 404 Not Found
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound

	// 409 Conflict
	case apperrors.ErrCodeAlreadyExists:
		return http.StatusConflict

	// 429 Too Many Requests
	case apperrors.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests

	// 502 Bad Gateway
	case apperrors.ErrCodeConnectionRefused,
		apperrors.ErrCodeAPIUnavailable,
		apperrors.ErrCodeQRFetchFailed,
		apperrors.ErrCodeInstancePrepareFailed,
		apperrors.ErrCodePairingInvalidResponse,
		apperrors.ErrCodePairingConnectFailed,
		apperrors.ErrCodePairingSyncFailed,
		apperrors.ErrCodeExternal:
		return http.StatusBadGateway

	// 500 Internal Server Error
	case apperrors.ErrCodeInternal:
		return http.StatusInternalServerError

	default:
		return http.StatusInternalServerError
	}
}
