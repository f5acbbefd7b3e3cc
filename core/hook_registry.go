package core

import (
	"sort"
	"strings"
	"sync"
)

type registryEntry struct {
	repo   RepoKey
	record HookRecord
}

// HookRegistry holds at most one hook record per repository. Lookups ignore
// case. Records returned to callers are copies.
type HookRegistry struct {
	mu       sync.RWMutex
	entries  map[RepoKey]registryEntry
	modCount uint64
}

func NewHookRegistry() *HookRegistry {
	return &HookRegistry{entries: map[RepoKey]registryEntry{}}
}

func (r *HookRegistry) Get(repo RepoKey) (HookRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[repo.Normalized()]
	if !ok {
		return HookRecord{}, false
	}
	return entry.record.clone(), true
}

// GetOrAdd returns the record for repo, inserting one built from remote when
// none exists. A record with a different id or url is replaced.
func (r *HookRegistry) GetOrAdd(repo RepoKey, remote RemoteHook) HookRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := repo.Normalized()
	if entry, ok := r.entries[key]; ok && entry.record.ID == remote.ID && entry.record.URL == remote.URL {
		return entry.record.clone()
	}
	record := HookRecord{
		ID:          remote.ID,
		URL:         remote.URL,
		CallbackURL: remote.CallbackURL,
		Status:      HookStatusWaiting,
	}
	r.entries[key] = registryEntry{repo: repo, record: record}
	r.modCount++
	return record.clone()
}

// Update runs mutate under the write lock. The id, url and callback of the
// record cannot be changed.
func (r *HookRegistry) Update(repo RepoKey, mutate func(*HookRecord)) (HookRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := repo.Normalized()
	entry, ok := r.entries[key]
	if !ok {
		return HookRecord{}, false
	}
	record := entry.record.clone()
	if mutate != nil {
		mutate(&record)
	}
	record.ID = entry.record.ID
	record.URL = entry.record.URL
	record.CallbackURL = entry.record.CallbackURL
	entry.record = record
	r.entries[key] = entry
	r.modCount++
	return record.clone(), true
}

func (r *HookRegistry) Delete(repo RepoKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := repo.Normalized()
	if _, ok := r.entries[key]; !ok {
		return false
	}
	delete(r.entries, key)
	r.modCount++
	return true
}

// FindByPubKey returns the entry whose callback url ends with pubKey.
func (r *HookRegistry) FindByPubKey(pubKey string) (HookEntry, bool) {
	pubKey = strings.TrimSpace(pubKey)
	if pubKey == "" {
		return HookEntry{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.entries {
		if strings.HasSuffix(entry.record.CallbackURL, pubKey) {
			return HookEntry{Repository: entry.repo, Hook: entry.record.clone()}, true
		}
	}
	return HookEntry{}, false
}

func (r *HookRegistry) ListAll() []HookEntry {
	return r.list(func(HookRecord) bool { return true })
}

// ListIncorrect returns hooks that need attention.
func (r *HookRegistry) ListIncorrect() []HookEntry {
	return r.list(func(record HookRecord) bool {
		return record.Status == HookStatusIncorrect || record.Status == HookStatusOutdated
	})
}

func (r *HookRegistry) list(keep func(HookRecord) bool) []HookEntry {
	r.mu.RLock()
	out := make([]HookEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		if keep(entry.record) {
			out = append(out, HookEntry{Repository: entry.repo, Hook: entry.record.clone()})
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Repository.Normalized().String() < out[j].Repository.Normalized().String()
	})
	return out
}

func (r *HookRegistry) Snapshot() []HookEntry {
	return r.ListAll()
}

// Restore replaces the registry content. Legacy statuses are normalised and
// entries with an incomplete repository are dropped.
func (r *HookRegistry) Restore(entries []HookEntry) int {
	restored := make(map[RepoKey]registryEntry, len(entries))
	for _, entry := range entries {
		if entry.Repository.Validate() != nil {
			continue
		}
		record := entry.Hook.clone()
		record.Status = NormalizeHookStatus(record.Status)
		restored[entry.Repository.Normalized()] = registryEntry{repo: entry.Repository, record: record}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = restored
	r.modCount++
	return len(restored)
}

func (r *HookRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Dirty returns the modification counter.
func (r *HookRegistry) Dirty() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modCount
}
