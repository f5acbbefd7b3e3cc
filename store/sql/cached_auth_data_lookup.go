package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-commit-hooks/core"
)

const authDataCacheKeyPrefix = "commithooks::auth_data::v1"

// AuthDataSource is the single-record side of AuthDataStore.
type AuthDataSource interface {
	FindByPublicKey(ctx context.Context, pubKey string) (core.AuthData, error)
	Save(ctx context.Context, data core.AuthData) error
	Delete(ctx context.Context, pubKey string) error
}

// CachedAuthDataLookup serves public key lookups for inbound deliveries from a
// read-through cache. Writes go to the base store and evict the cached key.
type CachedAuthDataLookup struct {
	base  AuthDataSource
	cache repositorycache.CacheService
}

func NewCachedAuthDataLookup(
	base AuthDataSource,
	cacheService repositorycache.CacheService,
) (*CachedAuthDataLookup, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base auth data store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: auth data cache service is required")
	}
	return &CachedAuthDataLookup{base: base, cache: cacheService}, nil
}

// AuthDataCacheKey returns commithooks::auth_data::v1::<public key> with the
// key path-escaped.
func AuthDataCacheKey(pubKey string) (string, error) {
	trimmed := strings.TrimSpace(pubKey)
	if trimmed == "" {
		return "", fmt.Errorf("sqlstore: auth data public key is required")
	}
	return authDataCacheKeyPrefix + "::" + url.PathEscape(trimmed), nil
}

func (l *CachedAuthDataLookup) FindByPublicKey(ctx context.Context, pubKey string) (core.AuthData, error) {
	if l == nil || l.base == nil || l.cache == nil {
		return core.AuthData{}, fmt.Errorf("sqlstore: cached auth data lookup is not configured")
	}
	cacheKey, err := AuthDataCacheKey(pubKey)
	if err != nil {
		return core.AuthData{}, err
	}
	trimmed := strings.TrimSpace(pubKey)
	return repositorycache.GetOrFetch(ctx, l.cache, cacheKey, func(ctx context.Context) (core.AuthData, error) {
		return l.base.FindByPublicKey(ctx, trimmed)
	})
}

// Lookup adapts FindByPublicKey to the found/not found form used by the
// inbound listener.
func (l *CachedAuthDataLookup) Lookup(ctx context.Context, pubKey string) (core.AuthData, bool, error) {
	data, err := l.FindByPublicKey(ctx, pubKey)
	if err != nil {
		if isAuthDataNotFound(err) {
			return core.AuthData{}, false, nil
		}
		return core.AuthData{}, false, err
	}
	return data, true, nil
}

func (l *CachedAuthDataLookup) Save(ctx context.Context, data core.AuthData) error {
	if l == nil || l.base == nil || l.cache == nil {
		return fmt.Errorf("sqlstore: cached auth data lookup is not configured")
	}
	if err := l.base.Save(ctx, data); err != nil {
		return err
	}
	return l.evict(ctx, data.PublicKey)
}

func (l *CachedAuthDataLookup) Delete(ctx context.Context, pubKey string) error {
	if l == nil || l.base == nil || l.cache == nil {
		return fmt.Errorf("sqlstore: cached auth data lookup is not configured")
	}
	if err := l.base.Delete(ctx, pubKey); err != nil {
		return err
	}
	return l.evict(ctx, pubKey)
}

func (l *CachedAuthDataLookup) evict(ctx context.Context, pubKey string) error {
	cacheKey, err := AuthDataCacheKey(pubKey)
	if err != nil {
		return err
	}
	return l.cache.Delete(ctx, cacheKey)
}
