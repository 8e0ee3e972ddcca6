// Package token owns the access, refresh and identity token triple of a
// session and decides, on every authorization check, whether to reuse it or
// refresh it against the identity provider.
package token

import (
	"time"
)

// ErrorKind marks a Set that failed to refresh.
type ErrorKind string

const (
	// NoError is the zero ErrorKind.
	NoError ErrorKind = ""
	// RefreshAccessTokenError is a transient failure. The refresh token is kept
	// and the next check retries.
	RefreshAccessTokenError ErrorKind = "RefreshAccessTokenError"
	// ReauthenticationRequired is terminal. All tokens are cleared and the user
	// must log in again.
	ReauthenticationRequired ErrorKind = "ReauthenticationRequired"
)

// Terminal reports whether k forbids further refresh attempts.
func (k ErrorKind) Terminal() bool { return k == ReauthenticationRequired }

// State is the lifecycle state of a Set.
type State int

const (
	Fresh State = iota
	Stale
	Refreshing
	Refreshed
	Errored
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Refreshing:
		return "refreshing"
	case Refreshed:
		return "refreshed"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Set is the token triple of one session. Invariant: Error.Terminal() implies
// RefreshToken == "".
type Set struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	// ExpiresAt is the access token expiry in Unix seconds.
	ExpiresAt int64
	Error     ErrorKind
}

// State classifies s at now. A set is Fresh only while now is more than skew
// before ExpiresAt.
func (s Set) State(now time.Time, skew time.Duration) State {
	if s.Error != NoError {
		return Errored
	}
	if s.AccessToken != "" && now.Before(s.Expiry().Add(-skew)) {
		return Fresh
	}
	return Stale
}

// Expiry returns ExpiresAt as a time.
func (s Set) Expiry() time.Time {
	return time.Unix(s.ExpiresAt, 0)
}

// Empty reports whether s holds no token at all.
func (s Set) Empty() bool {
	return s.AccessToken == "" && s.RefreshToken == "" && s.IDToken == ""
}

// terminal returns the cleared, re-authentication-required set.
func terminal() Set {
	return Set{Error: ReauthenticationRequired}
}
