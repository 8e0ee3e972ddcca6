// Package revocation remembers logged-out session IDs so a replayed session
// cookie is rejected until it would have expired anyway.
package revocation

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL matches the session cookie lifetime.
const DefaultTTL = 30 * 24 * time.Hour

// Store records revoked session IDs.
type Store interface {
	Revoke(ctx context.Context, sessionID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// Memory is a process-local Store. Entries expire after their TTL and are
// pruned on write.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]time.Time), now: time.Now}
}

func (m *Memory) Revoke(_ context.Context, sessionID string, ttl time.Duration) error {
	if sessionID == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, id)
		}
	}
	m.entries[sessionID] = now.Add(ttl)
	return nil
}

func (m *Memory) IsRevoked(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.entries[sessionID]
	if !ok {
		return false, nil
	}
	if !m.now().Before(exp) {
		delete(m.entries, sessionID)
		return false, nil
	}
	return true, nil
}

// Len returns the number of tracked entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
