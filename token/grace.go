package token

import (
	"sync"
	"time"
)

// graceCache remembers refresh outcomes keyed by the hash of the refresh
// token that produced them. Requests that raced the cookie update and still
// carry the old refresh token get the same result instead of spending a
// rotated-out token.
type graceCache struct {
	mu      sync.Mutex
	entries map[string]graceEntry
	ttl     time.Duration
	now     func() time.Time
}

type graceEntry struct {
	out     outcome
	expires time.Time
}

func newGraceCache(ttl time.Duration, now func() time.Time) *graceCache {
	return &graceCache{entries: make(map[string]graceEntry), ttl: ttl, now: now}
}

func (g *graceCache) get(key string) (outcome, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[key]
	if !ok {
		return outcome{}, false
	}
	if !g.now().Before(e.expires) {
		delete(g.entries, key)
		return outcome{}, false
	}
	return e.out, true
}

func (g *graceCache) put(key string, out outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for k, e := range g.entries {
		if !now.Before(e.expires) {
			delete(g.entries, k)
		}
	}
	g.entries[key] = graceEntry{out: out, expires: now.Add(g.ttl)}
}

func (g *graceCache) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
