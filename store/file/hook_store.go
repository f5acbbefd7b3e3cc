package filestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goliatone/go-commit-hooks/core"
)

type hooksDocument struct {
	Version int              `json:"version"`
	Hooks   []core.HookEntry `json:"hooks"`
}

// HookSnapshotStore persists the hook registry to a single JSON file,
// conventionally commit-hooks/webhooks.json under the host data directory.
type HookSnapshotStore struct {
	*document
}

func NewHookSnapshotStore(path string) (*HookSnapshotStore, error) {
	doc, err := newDocument(path)
	if err != nil {
		return nil, err
	}
	return &HookSnapshotStore{document: doc}, nil
}

func (s *HookSnapshotStore) LoadHooks(_ context.Context) ([]core.HookEntry, error) {
	data, err := s.read()
	if err != nil {
		return nil, err
	}
	var doc hooksDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("filestore: decode %s: %w", s.path, err)
	}
	if err := checkVersion(s.path, doc.Version); err != nil {
		return nil, err
	}
	return doc.Hooks, nil
}

func (s *HookSnapshotStore) SaveHooks(_ context.Context, entries []core.HookEntry) error {
	if entries == nil {
		entries = []core.HookEntry{}
	}
	data, err := json.MarshalIndent(hooksDocument{Version: SnapshotVersion, Hooks: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode hooks: %w", err)
	}
	return s.write(data)
}
