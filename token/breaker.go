package token

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lukaszraczylo/oidcsession/internal/logger"
)

// ErrCircuitOpen is returned by a Breaker while the token endpoint is
// considered down. The Machine treats it as a transient failure.
var ErrCircuitOpen = errors.New("token endpoint circuit breaker is open")

// BreakerState is the state of a Breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	// MaxFailures consecutive transport failures open the circuit.
	MaxFailures int
	// Cooldown is how long the circuit stays open before one trial request is let
	// through.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the production settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 5, Cooldown: 30 * time.Second}
}

// Breaker wraps an Exchanger and stops calling the token endpoint after
// repeated transport failures. A rejected refresh token is a provider answer,
// not an outage, and never counts as a failure.
type Breaker struct {
	next   Exchanger
	config BreakerConfig
	logger logger.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       BreakerState
	failures    int
	openedAt    time.Time
	trialActive bool
}

// NewBreaker wraps next.
func NewBreaker(next Exchanger, cfg BreakerConfig, log logger.Logger) *Breaker {
	d := DefaultBreakerConfig()
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = d.MaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = d.Cooldown
	}
	return &Breaker{next: next, config: cfg, logger: logger.OrNoOp(log), now: time.Now}
}

// Refresh implements Exchanger.
func (b *Breaker) Refresh(ctx context.Context, refreshToken string) (*Response, error) {
	if !b.allow() {
		return nil, ErrCircuitOpen
	}
	resp, err := b.next.Refresh(ctx, refreshToken)
	b.record(err)
	return resp, err
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			return false
		}
		b.state = BreakerHalfOpen
		b.trialActive = true
		b.logger.Info("Token endpoint circuit half-open, probing")
		return true
	case BreakerHalfOpen:
		if b.trialActive {
			return false
		}
		b.trialActive = true
		return true
	default:
		return true
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trialActive = false
	if err == nil || errors.Is(err, ErrInvalidGrant) || errors.Is(err, context.Canceled) {
		if b.state != BreakerClosed {
			b.logger.Info("Token endpoint circuit closed")
		}
		b.state = BreakerClosed
		b.failures = 0
		return
	}

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.config.MaxFailures {
		if b.state != BreakerOpen {
			b.logger.Errorf("Token endpoint circuit opened after %d failures: %v", b.failures, err)
		}
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}
