package core

import (
	"sync"
	"time"
)

// AuthDataCleaner removes auth data that no hook references. A record is only
// deleted when it was already unused one grace period earlier.
type AuthDataCleaner struct {
	mu           sync.Mutex
	grace        time.Duration
	callbackPath string
	candidates   map[string]struct{}
	lastCheck    time.Time
}

func NewAuthDataCleaner(grace time.Duration, callbackPath string) *AuthDataCleaner {
	if grace <= 0 {
		grace = DefaultUnusedAuthDataTTL
	}
	return &AuthDataCleaner{grace: grace, callbackPath: callbackPath}
}

// Cleanup returns the number of deleted records.
func (c *AuthDataCleaner) Cleanup(now time.Time, registry *HookRegistry, store *AuthDataStore) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.candidates != nil && now.Sub(c.lastCheck) <= c.grace {
		return 0
	}

	used := map[string]struct{}{}
	for _, entry := range registry.ListAll() {
		if pubKey, ok := PubKeyFromPath(entry.Hook.CallbackURL, c.callbackPath); ok {
			used[pubKey] = struct{}{}
		}
	}

	removed := 0
	if c.candidates != nil {
		stale := make([]string, 0, len(c.candidates))
		for pubKey := range c.candidates {
			if _, inUse := used[pubKey]; !inUse {
				stale = append(stale, pubKey)
			}
		}
		removed = store.DeleteMany(stale)
	}

	c.candidates = map[string]struct{}{}
	for _, data := range store.All() {
		if _, inUse := used[data.PublicKey]; !inUse {
			c.candidates[data.PublicKey] = struct{}{}
		}
	}
	c.lastCheck = now
	return removed
}

// Pending returns how many records are waiting for the grace period to pass.
func (c *AuthDataCleaner) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.candidates)
}
