package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application-level error with HTTP status code.
// Message is always a fixed string: it must never carry key material,
// configuration names or upstream stack traces.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"-"`

	// RetryAfterSeconds is set for rate_limited errors when a hint is known.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches AppErrors by code so predefined values work with errors.Is.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Error codes
const (
	ErrCodeUnsupportedChain     = "unsupported_chain"
	ErrCodeWalletNotFound       = "wallet_not_found"
	ErrCodeAlreadyProvisioned   = "already_provisioned"
	ErrCodeAuthenticationFailed = "authentication_failed"
	ErrCodeRateLimited          = "rate_limited"
	ErrCodeUpstreamNetworkError = "upstream_network_error"
	ErrCodeForbidden            = "forbidden"
	ErrCodeDecryptionError      = "decryption_error"
	ErrCodeUnknownUpstreamError = "unknown_upstream_error"
	ErrCodeBadRequest           = "bad_request"
	ErrCodeInternalError        = "internal_error"
)

// Predefined errors
var (
	ErrUnsupportedChain = &AppError{
		Code:       ErrCodeUnsupportedChain,
		Message:    "Chain is not supported",
		StatusCode: http.StatusBadRequest,
	}

	ErrWalletNotFound = &AppError{
		Code:       ErrCodeWalletNotFound,
		Message:    "Wallet not found",
		StatusCode: http.StatusNotFound,
	}

	ErrAlreadyProvisioned = &AppError{
		Code:       ErrCodeAlreadyProvisioned,
		Message:    "A wallet already exists for this chain",
		StatusCode: http.StatusConflict,
	}

	ErrAuthenticationFailed = &AppError{
		Code:       ErrCodeAuthenticationFailed,
		Message:    "Custody provider rejected the service credentials",
		StatusCode: http.StatusUnauthorized,
	}

	ErrRateLimited = &AppError{
		Code:       ErrCodeRateLimited,
		Message:    "Too many requests, retry later",
		StatusCode: http.StatusTooManyRequests,
	}

	ErrUpstreamNetwork = &AppError{
		Code:       ErrCodeUpstreamNetworkError,
		Message:    "Custody provider is unreachable",
		StatusCode: http.StatusServiceUnavailable,
	}

	ErrForbidden = &AppError{
		Code:       ErrCodeForbidden,
		Message:    "Operation not permitted by custody provider",
		StatusCode: http.StatusForbidden,
	}

	ErrDecryption = &AppError{
		Code:       ErrCodeDecryptionError,
		Message:    "Stored key material could not be decrypted",
		StatusCode: http.StatusInternalServerError,
	}

	ErrUnknownUpstream = &AppError{
		Code:       ErrCodeUnknownUpstreamError,
		Message:    "Custody provider returned an unexpected error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrBadRequest = &AppError{
		Code:       ErrCodeBadRequest,
		Message:    "Invalid request parameters",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalError = &AppError{
		Code:       ErrCodeInternalError,
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// New creates a new AppError
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewWithDetail creates a new AppError with additional detail
func NewWithDetail(code, message, detail string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Detail:     detail,
		StatusCode: statusCode,
	}
}

// WithDetail returns a copy of a predefined error carrying detail.
func WithDetail(base *AppError, detail string) *AppError {
	cp := *base
	cp.Detail = detail
	return &cp
}

// UnsupportedChain creates an unsupported chain error
func UnsupportedChain(chain string) *AppError {
	return WithDetail(ErrUnsupportedChain, fmt.Sprintf("chain: %s", chain))
}

// WalletNotFound creates a wallet not found error
func WalletNotFound(walletID string) *AppError {
	return WithDetail(ErrWalletNotFound, fmt.Sprintf("wallet_id: %s", walletID))
}

// BadRequest creates a bad request error with detail
func BadRequest(detail string) *AppError {
	return WithDetail(ErrBadRequest, detail)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
