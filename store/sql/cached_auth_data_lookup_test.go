package sqlstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-commit-hooks/core"
)

type stubAuthDataSource struct {
	mu        sync.Mutex
	records   map[string]core.AuthData
	findCalls int
	findErr   error
}

func newStubAuthDataSource(records ...core.AuthData) *stubAuthDataSource {
	source := &stubAuthDataSource{records: map[string]core.AuthData{}}
	for _, record := range records {
		source.records[record.PublicKey] = record
	}
	return source
}

func (s *stubAuthDataSource) FindByPublicKey(_ context.Context, pubKey string) (core.AuthData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	if s.findErr != nil {
		return core.AuthData{}, s.findErr
	}
	data, ok := s.records[pubKey]
	if !ok {
		return core.AuthData{}, ErrAuthDataNotFound
	}
	return data, nil
}

func (s *stubAuthDataSource) Save(_ context.Context, data core.AuthData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[data.PublicKey] = data
	return nil
}

func (s *stubAuthDataSource) Delete(_ context.Context, pubKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, pubKey)
	return nil
}

func (s *stubAuthDataSource) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findCalls
}

func TestCachedAuthDataLookup_MissFetchThenHit(t *testing.T) {
	base := newStubAuthDataSource(core.AuthData{UserID: "u1", PublicKey: "pub-1", Secret: "s1", Repository: testRepo})
	lookup, err := NewCachedAuthDataLookup(base, newTestAuthDataCacheService(t))
	if err != nil {
		t.Fatalf("new cached lookup: %v", err)
	}

	ctx := context.Background()
	if _, err := lookup.FindByPublicKey(ctx, "pub-1"); err != nil {
		t.Fatalf("first find: %v", err)
	}
	if base.calls() != 1 {
		t.Fatalf("expected first find to hit the base store once, got %d", base.calls())
	}
	data, err := lookup.FindByPublicKey(ctx, " pub-1 ")
	if err != nil {
		t.Fatalf("second find: %v", err)
	}
	if base.calls() != 1 {
		t.Fatalf("expected second find to be a cache hit, base calls=%d", base.calls())
	}
	if data.Secret != "s1" {
		t.Fatalf("unexpected cached auth data %+v", data)
	}
}

func TestCachedAuthDataLookup_SaveAndDeleteEvict(t *testing.T) {
	base := newStubAuthDataSource(core.AuthData{UserID: "u1", PublicKey: "pub-1", Secret: "s1", Repository: testRepo})
	lookup, err := NewCachedAuthDataLookup(base, newTestAuthDataCacheService(t))
	if err != nil {
		t.Fatalf("new cached lookup: %v", err)
	}
	ctx := context.Background()
	if _, err := lookup.FindByPublicKey(ctx, "pub-1"); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	if err := lookup.Save(ctx, core.AuthData{UserID: "u1", PublicKey: "pub-1", Secret: "s2", Repository: testRepo}); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := lookup.FindByPublicKey(ctx, "pub-1")
	if err != nil {
		t.Fatalf("find after save: %v", err)
	}
	if data.Secret != "s2" || base.calls() != 2 {
		t.Fatalf("expected save to evict the cached record, got %+v calls=%d", data, base.calls())
	}

	if err := lookup.Delete(ctx, "pub-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, found, err := lookup.Lookup(ctx, "pub-1")
	if err != nil {
		t.Fatalf("lookup after delete: %v", err)
	}
	if found {
		t.Fatalf("expected deleted key to be reported as not found")
	}
}

func TestCachedAuthDataLookup_LookupSurfacesStoreErrors(t *testing.T) {
	base := newStubAuthDataSource()
	base.findErr = errors.New("db down")
	lookup, err := NewCachedAuthDataLookup(base, newTestAuthDataCacheService(t))
	if err != nil {
		t.Fatalf("new cached lookup: %v", err)
	}
	if _, found, err := lookup.Lookup(context.Background(), "pub-1"); err == nil || found {
		t.Fatalf("expected store error to surface, found=%v err=%v", found, err)
	}
	if _, _, err := lookup.Lookup(context.Background(), "  "); err == nil {
		t.Fatalf("expected empty key to fail")
	}
}

func TestAuthDataCacheKey_EscapesPublicKey(t *testing.T) {
	key, err := AuthDataCacheKey("a/b c")
	if err != nil {
		t.Fatalf("cache key: %v", err)
	}
	if key != "commithooks::auth_data::v1::a%2Fb%20c" {
		t.Fatalf("unexpected cache key %q", key)
	}
}

func newTestAuthDataCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}
