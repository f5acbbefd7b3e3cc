package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-commit-hooks/core"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// State is the last request budget seen for one server.
type State struct {
	Server         string
	Limit          int
	Remaining      int
	ResetAt        *time.Time
	ThrottledUntil *time.Time
	Exhaustions    int
	UpdatedAt      time.Time
}

type StateStore interface {
	Get(ctx context.Context, server string) (State, error)
	Upsert(ctx context.Context, state State) error
}

type ThrottledError struct {
	Server     string
	Remaining  int
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf(
		"ratelimit: server %q throttled for %s (%d requests left)",
		strings.TrimSpace(e.Server),
		e.RetryAfter,
		e.Remaining,
	)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"server":    strings.TrimSpace(e.Server),
		"remaining": e.Remaining,
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.HookErrorRateLimited).
		WithMetadata(metadata)
}

// QuotaTracker keeps the request budget of each server. A server whose
// remaining budget drops to the low water mark is throttled until its reset
// time, or for an exponential backoff when GitHub did not report one.
type QuotaTracker struct {
	Store          StateStore
	LowWaterMark   int
	Now            func() time.Time
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewQuotaTracker(store StateStore, lowWaterMark int) *QuotaTracker {
	if store == nil {
		store = NewMemoryStateStore()
	}
	if lowWaterMark < 0 {
		lowWaterMark = core.DefaultQuotaLowWaterMark
	}
	return &QuotaTracker{
		Store:          store,
		LowWaterMark:   lowWaterMark,
		Now:            func() time.Time { return time.Now().UTC() },
		InitialBackoff: time.Minute,
		MaxBackoff:     time.Hour,
	}
}

func (t *QuotaTracker) ObserveQuota(ctx context.Context, server string, quota core.Quota) error {
	if t == nil || t.Store == nil || !quota.Known {
		return nil
	}
	server = normalizeServer(server)
	if server == "" {
		return fmt.Errorf("ratelimit: server is required")
	}
	now := t.now()
	state, err := t.Store.Get(ctx, server)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		return err
	}
	if errors.Is(err, ErrStateNotFound) {
		state = State{Server: server}
	}

	state.Limit = quota.Limit
	state.Remaining = quota.Remaining
	state.UpdatedAt = now
	state.ResetAt = nil
	if !quota.ResetAt.IsZero() {
		resetAt := quota.ResetAt.UTC()
		state.ResetAt = &resetAt
	}

	if quota.Remaining > t.LowWaterMark {
		state.Exhaustions = 0
		state.ThrottledUntil = nil
		return t.Store.Upsert(ctx, state)
	}

	state.Exhaustions++
	until := now.Add(t.nextBackoff(state.Exhaustions))
	if state.ResetAt != nil && state.ResetAt.After(now) {
		until = *state.ResetAt
	}
	state.ThrottledUntil = &until
	return t.Store.Upsert(ctx, state)
}

// BeforeCall fails with ThrottledError while server is throttled.
func (t *QuotaTracker) BeforeCall(ctx context.Context, server string) error {
	if t == nil || t.Store == nil {
		return nil
	}
	state, err := t.Store.Get(ctx, normalizeServer(server))
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return err
	}
	now := t.now()
	if until := state.ThrottledUntil; until != nil && now.Before(*until) {
		return ThrottledError{Server: state.Server, Remaining: state.Remaining, RetryAfter: until.Sub(now)}
	}
	return nil
}

// Exhausted reports whether server is throttled at now. Store failures count
// as not exhausted.
func (t *QuotaTracker) Exhausted(server string, now time.Time) bool {
	if t == nil || t.Store == nil {
		return false
	}
	state, err := t.Store.Get(context.Background(), normalizeServer(server))
	if err != nil {
		return false
	}
	return state.ThrottledUntil != nil && now.Before(*state.ThrottledUntil)
}

func (t *QuotaTracker) now() time.Time {
	if t != nil && t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

func (t *QuotaTracker) nextBackoff(attempt int) time.Duration {
	initial := t.InitialBackoff
	if initial <= 0 {
		initial = time.Minute
	}
	maximum := t.MaxBackoff
	if maximum <= 0 {
		maximum = time.Hour
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

func normalizeServer(server string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(server), "/"))
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, server string) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[normalizeServer(server)]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	state.Server = normalizeServer(state.Server)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[state.Server] = state
	return nil
}

var (
	_ core.QuotaObserver = (*QuotaTracker)(nil)
	_ core.QuotaGate     = (*QuotaTracker)(nil)
)
