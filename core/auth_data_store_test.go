package core

import (
	"testing"
	"time"
)

func TestAuthDataStore_CreateOnlyStoresWhenAsked(t *testing.T) {
	store := NewAuthDataStore()
	ref := ConnectionRef{ID: "conn_1", ProjectExternalID: "Root"}

	transient := store.Create("usr_1", testRepo, ref, false)
	if len(transient.PublicKey) != 32 || len(transient.Secret) != 32 {
		t.Fatalf("expected 32 hex character keys, got %q / %q", transient.PublicKey, transient.Secret)
	}
	if transient.PublicKey == transient.Secret {
		t.Fatalf("expected public key and secret to differ")
	}
	if _, ok := store.Find(transient.PublicKey); ok {
		t.Fatalf("expected unstored auth data to be absent")
	}

	stored := store.Create("usr_1", testRepo, ref, true)
	found, ok := store.Find(stored.PublicKey)
	if !ok || found.Secret != stored.Secret || found.Connection != ref {
		t.Fatalf("expected stored auth data, got %#v", found)
	}
}

func TestAuthDataStore_RepositoryAndUserQueries(t *testing.T) {
	store := NewAuthDataStore()
	ref := ConnectionRef{ID: "conn_1"}
	other := NewRepoKey("github.com", "acme", "gadgets")
	a := store.Create("usr_1", testRepo, ref, true)
	store.Create("usr_1", other, ref, true)
	store.Create("usr_2", NewRepoKey("GITHUB.com", "Acme", "WIDGETS"), ref, true)

	if got := store.FindAllForRepository(testRepo); len(got) != 2 {
		t.Fatalf("expected two records for widgets, got %d", len(got))
	}
	if removed := store.RemoveAllForUser("usr_1"); removed != 2 {
		t.Fatalf("expected two records removed, got %d", removed)
	}
	if _, ok := store.Find(a.PublicKey); ok {
		t.Fatalf("expected usr_1 record to be gone")
	}
	if len(store.All()) != 1 {
		t.Fatalf("expected usr_2 record to remain")
	}
}

func TestAuthDataStore_DirtyCounter(t *testing.T) {
	store := NewAuthDataStore()
	start := store.Dirty()
	store.Create("usr_1", testRepo, ConnectionRef{}, false)
	if store.Dirty() != start {
		t.Fatalf("expected transient create to leave store clean")
	}
	data := store.Create("usr_1", testRepo, ConnectionRef{}, true)
	if store.Dirty() == start {
		t.Fatalf("expected store to be dirty after a stored create")
	}
	mark := store.Dirty()
	if store.DeleteMany([]string{"missing"}) != 0 || store.Dirty() != mark {
		t.Fatalf("expected no-op delete to leave counter alone")
	}
	store.Delete(data.PublicKey)
	if store.Dirty() == mark {
		t.Fatalf("expected delete to bump counter")
	}
}

func TestAuthDataCleaner_WaitsOneGracePeriod(t *testing.T) {
	registry := NewHookRegistry()
	store := NewAuthDataStore()
	used := store.Create("usr_1", testRepo, ConnectionRef{}, true)
	registry.GetOrAdd(testRepo, remoteHookFor(testRepo, 1, testCallback(used.PublicKey)))
	orphan := store.Create("usr_1", NewRepoKey("github.com", "acme", "gone"), ConnectionRef{}, true)

	cleaner := NewAuthDataCleaner(25*time.Minute, DefaultCallbackPath)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if removed := cleaner.Cleanup(now, registry, store); removed != 0 {
		t.Fatalf("expected first pass to only collect candidates, removed %d", removed)
	}
	if cleaner.Pending() != 1 {
		t.Fatalf("expected one candidate, got %d", cleaner.Pending())
	}
	if removed := cleaner.Cleanup(now.Add(10*time.Minute), registry, store); removed != 0 {
		t.Fatalf("expected nothing removed inside the grace period")
	}
	if removed := cleaner.Cleanup(now.Add(26*time.Minute), registry, store); removed != 1 {
		t.Fatalf("expected orphan removed after the grace period, got %d", removed)
	}
	if _, ok := store.Find(orphan.PublicKey); ok {
		t.Fatalf("expected orphan auth data to be deleted")
	}
	if _, ok := store.Find(used.PublicKey); !ok {
		t.Fatalf("expected referenced auth data to survive")
	}
}

func TestAuthDataCleaner_SparesRecordsReferencedMeanwhile(t *testing.T) {
	registry := NewHookRegistry()
	store := NewAuthDataStore()
	late := store.Create("usr_1", testRepo, ConnectionRef{}, true)

	cleaner := NewAuthDataCleaner(time.Minute, DefaultCallbackPath)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cleaner.Cleanup(now, registry, store)

	registry.GetOrAdd(testRepo, remoteHookFor(testRepo, 1, testCallback(late.PublicKey)))
	if removed := cleaner.Cleanup(now.Add(2*time.Minute), registry, store); removed != 0 {
		t.Fatalf("expected record referenced since the first pass to survive")
	}
}
