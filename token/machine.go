package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	oidcerrors "github.com/lukaszraczylo/oidcsession/internal/errors"
	"github.com/lukaszraczylo/oidcsession/internal/logger"
)

// MinSkew is the smallest refresh buffer before expiry.
const MinSkew = 60 * time.Second

// Response is the token endpoint answer to a code or refresh grant.
type Response struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	// ExpiresIn is zero when the provider omitted expires_in.
	ExpiresIn time.Duration
}

// Exchanger performs refresh_token grants. Implementations wrap ErrInvalidGrant
// when the provider rejects the refresh token.
type Exchanger interface {
	Refresh(ctx context.Context, refreshToken string) (*Response, error)
}

// Observer is notified of state transitions. It must not block.
type Observer func(sessionID string, state State)

// Config tunes a Machine. Zero values pick defaults.
type Config struct {
	Skew             time.Duration
	Timeout          time.Duration
	DefaultExpiresIn time.Duration
	// GraceWindow keeps completed refresh results replayable for requests
	// still carrying the rotated-out refresh token.
	GraceWindow time.Duration
	// RateLimit caps token endpoint calls per second; zero disables it.
	RateLimit float64
	Burst     int
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Skew:             MinSkew,
		Timeout:          30 * time.Second,
		DefaultExpiresIn: time.Hour,
		GraceWindow:      30 * time.Second,
		RateLimit:        0,
		Burst:            10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Skew < MinSkew {
		c.Skew = MinSkew
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.DefaultExpiresIn <= 0 {
		c.DefaultExpiresIn = d.DefaultExpiresIn
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = d.GraceWindow
	}
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	return c
}

// Machine runs the refresh state machine. It keeps no per-session state of
// its own: callers load a Set, pass it to Authorize and persist the result.
// Concurrent refreshes of the same session share one provider call.
type Machine struct {
	exchanger Exchanger
	config    Config
	logger    logger.Logger
	limiter   *rate.Limiter
	group     singleflight.Group
	grace     *graceCache
	observer  Observer
	now       func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithObserver registers a state transition hook.
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observer = o }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine creates a Machine refreshing through exchanger.
func NewMachine(exchanger Exchanger, cfg Config, log logger.Logger, opts ...Option) *Machine {
	cfg = cfg.withDefaults()

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	m := &Machine{
		exchanger: exchanger,
		config:    cfg,
		logger:    logger.OrNoOp(log),
		limiter:   rate.NewLimiter(limit, cfg.Burst),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.grace = newGraceCache(cfg.GraceWindow, m.now)
	return m
}

// Skew returns the effective refresh buffer.
func (m *Machine) Skew() time.Duration { return m.config.Skew }

// Start builds the Fresh set from an authorization-code exchange.
func (m *Machine) Start(resp *Response) Set {
	return Set{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		IDToken:      resp.IDToken,
		ExpiresAt:    m.expiresAt(resp.ExpiresIn),
	}
}

// State classifies set with the machine's clock and skew.
func (m *Machine) State(set Set) State {
	return set.State(m.now(), m.config.Skew)
}

// Authorize returns a set whose access token is usable, refreshing first when
// needed.
//
// A Fresh set is returned unchanged without any network call. A terminal set,
// or a stale set without a refresh token, yields the cleared set and
// ErrReauthenticationRequired. A failed refresh yields the previous set marked
// RefreshAccessTokenError and an error wrapping ErrRefreshTransient; the
// previous access token is still present in that set.
//
// If ctx ends while a refresh is in flight, Authorize returns set unchanged
// and ctx.Err(); the refresh still completes for other waiters.
func (m *Machine) Authorize(ctx context.Context, sessionID string, set Set) (Set, error) {
	switch m.State(set) {
	case Fresh:
		return set, nil
	case Errored:
		if set.Error.Terminal() {
			return terminal(), ErrReauthenticationRequired
		}
	}

	if set.RefreshToken == "" {
		m.logger.WithField("session", sessionID).Info("Token is stale and no refresh token is available")
		m.notify(sessionID, Errored)
		return terminal(), ErrReauthenticationRequired
	}

	rtHash := hashToken(set.RefreshToken)
	if out, ok := m.grace.get(rtHash); ok {
		m.logger.WithField("session", sessionID).Debug("Reusing recent refresh result")
		return out.set, out.err
	}

	key := sessionID
	if key == "" {
		key = "rt:" + rtHash
	}

	ch := m.group.DoChan(key, func() (any, error) {
		// A call that finished between the lookup above and this one already
		// spent the refresh token.
		if out, ok := m.grace.get(rtHash); ok {
			return out, nil
		}

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.Timeout)
		defer cancel()

		out := m.refresh(rctx, sessionID, set)
		if !errors.Is(out.err, ErrRefreshTransient) {
			m.grace.put(rtHash, out)
		}
		return out, nil
	})

	select {
	case <-ctx.Done():
		return set, ctx.Err()
	case res := <-ch:
		out := res.Val.(outcome)
		return out.set, out.err
	}
}

type outcome struct {
	set Set
	err error
}

func (m *Machine) refresh(ctx context.Context, sessionID string, set Set) outcome {
	log := m.logger.WithField("session", sessionID)
	m.notify(sessionID, Refreshing)

	if err := m.limiter.Wait(ctx); err != nil {
		log.Errorf("Token refresh rate limited: %v", err)
		return m.transient(sessionID, set, err)
	}

	resp, err := m.exchanger.Refresh(ctx, set.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidGrant) {
			log.Infof("Refresh token rejected by provider, re-authentication required: %v", err)
			m.notify(sessionID, Errored)
			return outcome{set: terminal(), err: ErrReauthenticationRequired}
		}
		log.Errorf("Token refresh failed, will retry on next check: %v", err)
		return m.transient(sessionID, set, err)
	}
	if resp == nil || resp.AccessToken == "" {
		log.Error("Token refresh response has no access token")
		return m.transient(sessionID, set, errors.New("response missing access_token"))
	}

	next := Set{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		IDToken:      resp.IDToken,
		ExpiresAt:    m.expiresAt(resp.ExpiresIn),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = set.RefreshToken
	}
	if next.IDToken == "" {
		next.IDToken = set.IDToken
	}

	log.Debugf("Token refreshed, new expiry %s", next.Expiry().UTC().Format(time.RFC3339))
	m.notify(sessionID, Refreshed)
	return outcome{set: next}
}

func (m *Machine) transient(sessionID string, set Set, cause error) outcome {
	m.notify(sessionID, Errored)
	set.Error = RefreshAccessTokenError
	return outcome{
		set: set,
		err: fmt.Errorf("%w: %w", ErrRefreshTransient, oidcerrors.WrapProviderError(cause, "token endpoint")),
	}
}

func (m *Machine) expiresAt(expiresIn time.Duration) int64 {
	if expiresIn <= 0 {
		expiresIn = m.config.DefaultExpiresIn
	}
	return m.now().Add(expiresIn).Unix()
}

func (m *Machine) notify(sessionID string, s State) {
	if m.observer != nil {
		m.observer(sessionID, s)
	}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
