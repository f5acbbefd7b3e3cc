package core

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const removeForUserPasses = 3

// AuthDataStore maps callback public keys to the data needed to act for the
// user that created the hook.
type AuthDataStore struct {
	mu       sync.RWMutex
	records  map[string]AuthData
	modCount uint64
}

func NewAuthDataStore() *AuthDataStore {
	return &AuthDataStore{records: map[string]AuthData{}}
}

// Create mints a fresh key pair. The record is only kept when store is set.
func (s *AuthDataStore) Create(userID string, repo RepoKey, connection ConnectionRef, store bool) AuthData {
	data := AuthData{
		UserID:     strings.TrimSpace(userID),
		PublicKey:  newAuthKey(),
		Secret:     newAuthKey(),
		Repository: repo,
		Connection: connection,
	}
	if store {
		s.Store(data)
	}
	return data
}

func newAuthKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *AuthDataStore) Store(data AuthData) {
	if strings.TrimSpace(data.PublicKey) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[data.PublicKey] = data
	s.modCount++
}

func (s *AuthDataStore) Find(pubKey string) (AuthData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.records[pubKey]
	return data, ok
}

func (s *AuthDataStore) Delete(pubKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[pubKey]; !ok {
		return false
	}
	delete(s.records, pubKey)
	s.modCount++
	return true
}

func (s *AuthDataStore) DeleteMany(pubKeys []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, pubKey := range pubKeys {
		if _, ok := s.records[pubKey]; ok {
			delete(s.records, pubKey)
			removed++
		}
	}
	if removed > 0 {
		s.modCount++
	}
	return removed
}

func (s *AuthDataStore) FindAllForRepository(repo RepoKey) []AuthData {
	return s.filter(func(data AuthData) bool {
		return data.Repository.Equal(repo)
	})
}

func (s *AuthDataStore) All() []AuthData {
	return s.filter(func(AuthData) bool { return true })
}

// RemoveAllForUser deletes every record of a user. Each pass scans a fresh
// key snapshot so records added concurrently are picked up.
func (s *AuthDataStore) RemoveAllForUser(userID string) int {
	removed := 0
	for pass := 0; pass < removeForUserPasses; pass++ {
		var keys []string
		for _, data := range s.All() {
			if data.UserID == userID {
				keys = append(keys, data.PublicKey)
			}
		}
		if len(keys) == 0 {
			break
		}
		removed += s.DeleteMany(keys)
	}
	return removed
}

func (s *AuthDataStore) filter(keep func(AuthData) bool) []AuthData {
	s.mu.RLock()
	out := make([]AuthData, 0, len(s.records))
	for _, data := range s.records {
		if keep(data) {
			out = append(out, data)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PublicKey < out[j].PublicKey })
	return out
}

// Restore replaces the store content.
func (s *AuthDataStore) Restore(records []AuthData) int {
	restored := make(map[string]AuthData, len(records))
	for _, data := range records {
		if strings.TrimSpace(data.PublicKey) == "" {
			continue
		}
		restored[data.PublicKey] = data
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = restored
	s.modCount++
	return len(restored)
}

func (s *AuthDataStore) Dirty() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modCount
}
