package inbound

import (
	"sync"
	"time"

	"github.com/goliatone/go-commit-hooks/core"
)

const defaultBurstMaxEntries = 4096

// BurstGuard coalesces check requests for one repository that arrive within
// a window, such as a push immediately followed by the pull request
// synchronize event it caused. Only the first request of a burst is
// forwarded.
type BurstGuard struct {
	window     time.Duration
	maxEntries int

	mu      sync.Mutex
	entries map[core.RepoKey]time.Time
}

// NewBurstGuard returns nil for a non-positive window, which disables
// coalescing.
func NewBurstGuard(window time.Duration) *BurstGuard {
	if window <= 0 {
		return nil
	}
	return &BurstGuard{
		window:     window,
		maxEntries: defaultBurstMaxEntries,
		entries:    map[core.RepoKey]time.Time{},
	}
}

// Allow reports whether a check for repo should be forwarded at now. A
// coalesced request does not extend the window.
func (g *BurstGuard) Allow(repo core.RepoKey, now time.Time) bool {
	if g == nil {
		return true
	}
	key := repo.Normalized()
	g.mu.Lock()
	defer g.mu.Unlock()
	if last, ok := g.entries[key]; ok && now.Sub(last) < g.window {
		return false
	}
	g.entries[key] = now
	g.cleanup(now)
	return true
}

func (g *BurstGuard) cleanup(now time.Time) {
	limit := g.window * 4
	if len(g.entries) > g.maxEntries {
		limit = g.window
	}
	for key, seenAt := range g.entries {
		if now.Sub(seenAt) > limit {
			delete(g.entries, key)
		}
	}
}
