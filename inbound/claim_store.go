package inbound

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultClaimLease = 10 * time.Minute

type claimState string

const (
	claimProcessing claimState = "processing"
	claimRetryable  claimState = "retryable"
	claimDone       claimState = "done"
)

type deliveryClaim struct {
	state     claimState
	claimID   string
	attempts  int
	lease     time.Duration
	expiresAt time.Time
	retryAt   time.Time
}

// MemoryClaimStore is an in-process core.IdempotencyClaimStore keyed by
// delivery id. Completed deliveries are remembered for the lease passed to
// Claim.
type MemoryClaimStore struct {
	mu       sync.Mutex
	entries  map[string]deliveryClaim
	claimIDs map[string]string
	nextID   int
	Now      func() time.Time
}

func NewMemoryClaimStore() *MemoryClaimStore {
	return &MemoryClaimStore{
		entries:  map[string]deliveryClaim{},
		claimIDs: map[string]string{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryClaimStore) Claim(_ context.Context, key string, lease time.Duration) (string, bool, error) {
	if s == nil {
		return "", false, inboundInternal("inbound: claim store is nil", nil)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, inboundBadInput("inbound: delivery key is required", nil)
	}
	if lease <= 0 {
		lease = defaultClaimLease
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(now)

	entry, exists := s.entries[key]
	if exists {
		switch entry.state {
		case claimDone, claimProcessing:
			if now.Before(entry.expiresAt) {
				return "", false, nil
			}
		case claimRetryable:
			if now.Before(entry.retryAt) {
				return "", false, nil
			}
		}
		delete(s.claimIDs, entry.claimID)
	}

	s.nextID++
	claimID := fmt.Sprintf("delivery_claim_%d", s.nextID)
	s.entries[key] = deliveryClaim{
		state:     claimProcessing,
		claimID:   claimID,
		attempts:  entry.attempts + 1,
		lease:     lease,
		expiresAt: now.Add(lease),
	}
	s.claimIDs[claimID] = key
	return claimID, true, nil
}

func (s *MemoryClaimStore) Complete(_ context.Context, claimID string) error {
	return s.settle(claimID, func(entry *deliveryClaim, now time.Time) {
		entry.state = claimDone
		entry.expiresAt = now.Add(entry.lease)
	})
}

// Fail releases the claim so the delivery can be processed again at retryAt.
func (s *MemoryClaimStore) Fail(_ context.Context, claimID string, _ error, retryAt time.Time) error {
	return s.settle(claimID, func(entry *deliveryClaim, now time.Time) {
		if retryAt.IsZero() {
			retryAt = now
		}
		entry.state = claimRetryable
		entry.retryAt = retryAt.UTC()
		entry.expiresAt = time.Time{}
	})
}

// Attempts reports how many times key was claimed.
func (s *MemoryClaimStore) Attempts(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[strings.TrimSpace(key)].attempts
}

func (s *MemoryClaimStore) settle(claimID string, apply func(*deliveryClaim, time.Time)) error {
	if s == nil {
		return inboundInternal("inbound: claim store is nil", nil)
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return inboundBadInput("inbound: claim id is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.claimIDs[claimID]
	if !ok {
		return nil
	}
	delete(s.claimIDs, claimID)
	entry, exists := s.entries[key]
	if !exists || entry.claimID != claimID || entry.state != claimProcessing {
		return nil
	}
	apply(&entry, s.now())
	s.entries[key] = entry
	return nil
}

func (s *MemoryClaimStore) evictLocked(now time.Time) {
	for key, entry := range s.entries {
		if entry.state == claimDone && !now.Before(entry.expiresAt) {
			delete(s.claimIDs, entry.claimID)
			delete(s.entries, key)
		}
	}
}

func (s *MemoryClaimStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
