package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-commit-hooks/ratelimit"
)

// QuotaStateStore keeps one row of request budget per server so throttles
// survive restarts.
type QuotaStateStore struct {
	db   *bun.DB
	repo repository.Repository[*quotaStateRecord]
}

func NewQuotaStateStore(db *bun.DB) (*QuotaStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*quotaStateRecord](db, quotaStateHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid quota state repository wiring: %w", err)
		}
	}
	return &QuotaStateStore{db: db, repo: repo}, nil
}

func (s *QuotaStateStore) Get(ctx context.Context, server string) (ratelimit.State, error) {
	if s == nil || s.db == nil {
		return ratelimit.State{}, fmt.Errorf("sqlstore: quota state store is not configured")
	}
	server = normalizeServer(server)
	if server == "" {
		return ratelimit.State{}, fmt.Errorf("sqlstore: quota server is required")
	}
	record := &quotaStateRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.server = ?", server).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ratelimit.State{}, ratelimit.ErrStateNotFound
		}
		return ratelimit.State{}, err
	}
	return record.toDomain(), nil
}

func (s *QuotaStateStore) Upsert(ctx context.Context, state ratelimit.State) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: quota state store is not configured")
	}
	state.Server = normalizeServer(state.Server)
	if state.Server == "" {
		return fmt.Errorf("sqlstore: quota server is required")
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findQuotaStateTx(ctx, tx, state.Server)
		if err != nil {
			return err
		}
		created := false
		if record == nil {
			created = true
			record = &quotaStateRecord{
				ID:        uuid.NewString(),
				Server:    state.Server,
				CreatedAt: state.UpdatedAt,
			}
		}
		record.Limit = state.Limit
		record.Remaining = state.Remaining
		record.ResetAt = copyTimePointer(state.ResetAt)
		record.ThrottledUntil = copyTimePointer(state.ThrottledUntil)
		record.Exhaustions = state.Exhaustions
		record.UpdatedAt = state.UpdatedAt.UTC()

		if created {
			_, insertErr := s.repo.CreateTx(ctx, tx, record)
			return insertErr
		}
		_, updateErr := tx.NewUpdate().
			Model(record).
			Where("id = ?", record.ID).
			Exec(ctx)
		return updateErr
	})
}

func (r *quotaStateRecord) toDomain() ratelimit.State {
	if r == nil {
		return ratelimit.State{}
	}
	return ratelimit.State{
		Server:         r.Server,
		Limit:          r.Limit,
		Remaining:      r.Remaining,
		ResetAt:        copyTimePointer(r.ResetAt),
		ThrottledUntil: copyTimePointer(r.ThrottledUntil),
		Exhaustions:    r.Exhaustions,
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func findQuotaStateTx(ctx context.Context, tx bun.Tx, server string) (*quotaStateRecord, error) {
	record := &quotaStateRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.server = ?", server).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func normalizeServer(server string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(server), "/"))
}

func newQuotaTracker(store *QuotaStateStore, lowWaterMark int) *ratelimit.QuotaTracker {
	return ratelimit.NewQuotaTracker(store, lowWaterMark)
}
