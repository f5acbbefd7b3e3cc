package sqlstore

import (
	"context"
	"fmt"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-commit-hooks/core"
)

// HookStore persists the hook registry snapshot in commit_hooks. Every save
// replaces the table content inside one transaction.
type HookStore struct {
	db   *bun.DB
	repo repository.Repository[*hookRecord]
}

func NewHookStore(db *bun.DB) (*HookStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*hookRecord](db, hookHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid hook repository wiring: %w", err)
		}
	}
	return &HookStore{db: db, repo: repo}, nil
}

func (s *HookStore) LoadHooks(ctx context.Context) ([]core.HookEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: hook store is not configured")
	}
	var records []*hookRecord
	if err := s.db.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.repo_key ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.HookEntry, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *HookStore) SaveHooks(ctx context.Context, entries []core.HookEntry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: hook store is not configured")
	}
	now := time.Now().UTC()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*hookRecord)(nil)).
			Where("1 = 1").
			Exec(ctx); err != nil {
			return err
		}
		seen := make(map[string]struct{}, len(entries))
		for _, entry := range entries {
			record := newHookRecord(entry, now)
			if _, dup := seen[record.RepoKey]; dup {
				continue
			}
			seen[record.RepoKey] = struct{}{}
			if _, err := s.repo.CreateTx(ctx, tx, record); err != nil {
				return fmt.Errorf("sqlstore: save hook %s: %w", record.RepoKey, err)
			}
		}
		return nil
	})
}

func newHookRecord(entry core.HookEntry, now time.Time) *hookRecord {
	revisions := make(map[string]string, len(entry.Hook.LastBranchRevisions))
	for ref, sha := range entry.Hook.LastBranchRevisions {
		revisions[ref] = sha
	}
	return &hookRecord{
		ID:                  uuid.NewString(),
		RepoKey:             entry.Repository.Normalized().String(),
		Server:              entry.Repository.Server,
		Owner:               entry.Repository.Owner,
		Name:                entry.Repository.Name,
		HookID:              entry.Hook.ID,
		URL:                 entry.Hook.URL,
		CallbackURL:         entry.Hook.CallbackURL,
		Status:              string(entry.Hook.Status),
		LastUsed:            copyTimePointer(entry.Hook.LastUsed),
		LastBranchRevisions: revisions,
		UpdatedAt:           now,
	}
}

func (r *hookRecord) toDomain() core.HookEntry {
	if r == nil {
		return core.HookEntry{}
	}
	hook := core.HookRecord{
		ID:          r.HookID,
		URL:         r.URL,
		CallbackURL: r.CallbackURL,
		Status:      core.NormalizeHookStatus(core.HookStatus(r.Status)),
		LastUsed:    copyTimePointer(r.LastUsed),
	}
	if len(r.LastBranchRevisions) > 0 {
		hook.LastBranchRevisions = make(map[string]string, len(r.LastBranchRevisions))
		for ref, sha := range r.LastBranchRevisions {
			hook.LastBranchRevisions[ref] = sha
		}
	}
	return core.HookEntry{
		Repository: core.NewRepoKey(r.Server, r.Owner, r.Name),
		Hook:       hook,
	}
}

func copyTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
