package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and workers MUST use these constants
// instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField  ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidEmail  ErrorCode = "validation_invalid_email"
	ErrCodeValidationInvalidKind   ErrorCode = "validation_invalid_kind"
	ErrCodeValidationInvalidLang   ErrorCode = "validation_invalid_language"
	ErrCodeInvalidAudience         ErrorCode = "validation_invalid_audience"
	ErrCodeValidationInvalidTarget ErrorCode = "validation_invalid_target"

	// Auth (401)
	ErrCodeAuthUnauthenticated ErrorCode = "auth_unauthenticated"
	ErrCodeAuthTokenInvalid    ErrorCode = "auth_token_invalid"

	// Permission (403)
	ErrCodePermissionAdminRequired ErrorCode = "permission_admin_required"

	// Not Found (404)
	ErrCodeNotFoundUser      ErrorCode = "not_found_user"
	ErrCodeNotFoundRequest   ErrorCode = "not_found_request"
	ErrCodeNoActiveRecipient ErrorCode = "not_found_active_recipient"

	// Internal/Upstream (500/502)
	ErrCodeInternalStore       ErrorCode = "internal_store_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamMail        ErrorCode = "upstream_mail_provider_unavailable"
	ErrCodeUpstreamPush        ErrorCode = "upstream_push_provider_unavailable"
	ErrCodeUpstreamIdentity    ErrorCode = "upstream_identity_provider_unavailable"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"

	// Per-recipient soft failure: registration no longer valid.
	ErrCodePushTokenStale ErrorCode = "push_token_stale"
)

// CallableKind is the structured error kind surfaced to direct-invocation
// callers. There are no numeric exit codes; callable responses carry one of
// these kinds plus a human-readable message.
type CallableKind string

const (
	CallableUnauthenticated  CallableKind = "unauthenticated"
	CallableInvalidArgument  CallableKind = "invalid-argument"
	CallablePermissionDenied CallableKind = "permission-denied"
	CallableNotFound         CallableKind = "not-found"
	CallableInternal         CallableKind = "internal"
)

// CallableKind maps an ErrorCode to the callable error surface.
func (c ErrorCode) CallableKind() CallableKind {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return CallableInvalidArgument
	case strings.HasPrefix(s, "auth_"):
		return CallableUnauthenticated
	case strings.HasPrefix(s, "permission_"):
		return CallablePermissionDenied
	case strings.HasPrefix(s, "not_found_"):
		return CallableNotFound
	default:
		return CallableInternal
	}
}

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	switch c.CallableKind() {
	case CallableInvalidArgument:
		return http.StatusBadRequest
	case CallableUnauthenticated:
		return http.StatusUnauthorized
	case CallablePermissionDenied:
		return http.StatusForbidden
	case CallableNotFound:
		return http.StatusNotFound
	}
	switch {
	case c == ErrCodeUpstreamRateLimited:
		return http.StatusTooManyRequests
	case strings.HasPrefix(string(c), "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. All domain and handler
// errors should be expressed as AppError to enable consistent error
// formatting, callable-kind mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
