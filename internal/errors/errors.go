// Package errors provides the error taxonomy shared by the session service.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode represents specific error types
type ErrorCode string

const (
	// Claim decoding
	ErrCodeDecodeFailure ErrorCode = "DECODE_FAILURE"

	// Token refresh
	ErrCodeRefreshTransient ErrorCode = "REFRESH_TRANSIENT"
	ErrCodeRefreshTerminal  ErrorCode = "REFRESH_TERMINAL"

	// Configuration
	ErrCodeConfigMissing ErrorCode = "CONFIG_MISSING"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Authorization checks
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeMissingAccessToken ErrorCode = "MISSING_ACCESS_TOKEN"
	ErrCodeSessionRevoked     ErrorCode = "SESSION_REVOKED"

	// Identity provider communication
	ErrCodeProviderUnreachable ErrorCode = "PROVIDER_UNREACHABLE"
)

// OIDCError represents a structured error with context
type OIDCError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	HTTPStatus int       `json:"http_status"`
	Internal   error     `json:"-"` // never exposed
}

// Error implements the error interface
func (e *OIDCError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the internal error for error wrapping
func (e *OIDCError) Unwrap() error {
	return e.Internal
}

// Is reports whether target is an *OIDCError with the same code, so that
// errors.Is(err, errors.New(ErrCodeRefreshTerminal, "")) matches any terminal
// refresh failure regardless of message.
func (e *OIDCError) Is(target error) bool {
	t, ok := target.(*OIDCError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// IsRetryable indicates if the error is temporary and can be retried
func (e *OIDCError) IsRetryable() bool {
	return e.Code == ErrCodeRefreshTransient ||
		e.Code == ErrCodeProviderUnreachable
}

// RequiresReauthentication indicates the user must go through a fresh login.
func (e *OIDCError) RequiresReauthentication() bool {
	return e.Code == ErrCodeRefreshTerminal ||
		e.Code == ErrCodeSessionRevoked ||
		e.Code == ErrCodeUnauthorized
}

// ToJSON converts the error to a JSON response body
func (e *OIDCError) ToJSON() map[string]any {
	body := map[string]any{
		"code":    string(e.Code),
		"message": e.Message,
	}
	if e.Details != "" {
		body["details"] = e.Details
	}
	return map[string]any{"error": body}
}

// New creates an error with the default HTTP status for its code.
func New(code ErrorCode, message string) *OIDCError {
	return &OIDCError{Code: code, Message: message, HTTPStatus: statusFor(code)}
}

// Wrap creates an error carrying internal as its cause.
func Wrap(code ErrorCode, message string, internal error) *OIDCError {
	e := New(code, message)
	e.Internal = internal
	return e
}

func statusFor(code ErrorCode) int {
	switch code {
	case ErrCodeUnauthorized, ErrCodeRefreshTerminal, ErrCodeSessionRevoked, ErrCodeMissingAccessToken:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeRefreshTransient, ErrCodeProviderUnreachable:
		return http.StatusServiceUnavailable
	case ErrCodeDecodeFailure:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error constructors for common scenarios

// NewConfigMissingError reports absent required configuration keys.
func NewConfigMissingError(keys []string) *OIDCError {
	e := New(ErrCodeConfigMissing, "Required configuration is missing")
	e.Details = strings.Join(keys, ", ")
	return e
}

// NewRefreshError classifies a failed refresh as terminal or transient.
func NewRefreshError(terminal bool, message string, internal error) *OIDCError {
	code := ErrCodeRefreshTransient
	if terminal {
		code = ErrCodeRefreshTerminal
	}
	return Wrap(code, message, internal)
}

// NewForbiddenError reports a failed role requirement.
func NewForbiddenError(required []string) *OIDCError {
	e := New(ErrCodeForbidden, "Insufficient role")
	e.Details = strings.Join(required, ", ")
	return e
}

// WrapProviderError wraps a provider communication error
func WrapProviderError(err error, providerURL string) *OIDCError {
	return Wrap(ErrCodeProviderUnreachable, fmt.Sprintf("Provider communication failed: %s", providerURL), err)
}

// AsOIDCError finds the first *OIDCError in err's chain.
func AsOIDCError(err error) (*OIDCError, bool) {
	var oidcErr *OIDCError
	if stderrors.As(err, &oidcErr) {
		return oidcErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, &OIDCError{Code: code})
}

// GetHTTPStatus extracts HTTP status from error, defaulting to 500
func GetHTTPStatus(err error) int {
	if oidcErr, ok := AsOIDCError(err); ok && oidcErr.HTTPStatus != 0 {
		return oidcErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// FormatUserMessage creates a user-friendly error message
func FormatUserMessage(err error) string {
	if oidcErr, ok := AsOIDCError(err); ok {
		switch oidcErr.Code {
		case ErrCodeForbidden:
			return "You do not have the required permissions for this page"
		case ErrCodeRefreshTerminal, ErrCodeSessionRevoked:
			return "Your session has expired. Please log in again"
		case ErrCodeUnauthorized:
			return "Please log in to continue"
		case ErrCodeMissingAccessToken:
			return "Your session has no access token. Please log in again"
		case ErrCodeRefreshTransient, ErrCodeProviderUnreachable:
			return "Authentication service is temporarily unavailable. Please try again later"
		case ErrCodeConfigMissing:
			return "Authentication is not configured"
		default:
			return "Authentication failed. Please try again"
		}
	}
	return "An unexpected error occurred. Please try again"
}
