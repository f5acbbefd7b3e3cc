package core

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// IncorrectReasonCache keeps the last failure reason reported for a hook.
// Entries expire ttl after they are written.
type IncorrectReasonCache struct {
	cache *ristretto.Cache[string, string]
	ttl   time.Duration
}

func NewIncorrectReasonCache(ttl time.Duration) (*IncorrectReasonCache, error) {
	if ttl <= 0 {
		ttl = DefaultIncorrectReasonTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &IncorrectReasonCache{cache: cache, ttl: ttl}, nil
}

func (c *IncorrectReasonCache) Put(key HookKey, reason string) {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.SetWithTTL(key.String(), reason, int64(len(reason))+1, c.ttl)
	c.cache.Wait()
}

func (c *IncorrectReasonCache) Reason(key HookKey) (string, bool) {
	if c == nil || c.cache == nil {
		return "", false
	}
	return c.cache.Get(key.String())
}

func (c *IncorrectReasonCache) Forget(key HookKey) {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.Del(key.String())
}

func (c *IncorrectReasonCache) Close() {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.Close()
}
