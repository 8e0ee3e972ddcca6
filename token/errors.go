package token

import (
	"errors"

	oidcerrors "github.com/lukaszraczylo/oidcsession/internal/errors"
)

var (
	// ErrReauthenticationRequired is returned once a Set has been cleared and
	// the user must log in again.
	ErrReauthenticationRequired = oidcerrors.New(oidcerrors.ErrCodeRefreshTerminal, "re-authentication required")

	// ErrRefreshTransient is returned when a refresh failed but may succeed on
	// a later check. The last-known access token is still usable.
	ErrRefreshTransient = oidcerrors.New(oidcerrors.ErrCodeRefreshTransient, "token refresh failed")

	// ErrInvalidGrant is returned by an Exchanger when the provider rejected the
	// refresh token itself.
	ErrInvalidGrant = errors.New("invalid_grant")
)
