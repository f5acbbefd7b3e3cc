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
)

const (
	deliveryStatusProcessing = "processing"
	deliveryStatusRetryable  = "retryable"
	deliveryStatusDone       = "done"

	defaultDeliveryLease = 10 * time.Minute
)

// DeliveryClaimStore records webhook delivery claims in
// commit_hook_deliveries. Instances sharing the database see each other's
// claims, so a redelivered event is processed once whichever instance
// receives it.
type DeliveryClaimStore struct {
	db   *bun.DB
	repo repository.Repository[*deliveryClaimRecord]

	// Now is the store clock. Nil means time.Now.
	Now func() time.Time
}

func NewDeliveryClaimStore(db *bun.DB) (*DeliveryClaimStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deliveryClaimRecord](db, deliveryClaimHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid delivery claim repository wiring: %w", err)
		}
	}
	return &DeliveryClaimStore{db: db, repo: repo}, nil
}

// Claim takes the delivery key for lease. A key that is done or held by a
// live claim is refused, as is a failed key whose retry time has not come.
func (s *DeliveryClaimStore) Claim(ctx context.Context, key string, lease time.Duration) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, fmt.Errorf("sqlstore: delivery claim store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, fmt.Errorf("sqlstore: delivery key is required")
	}
	if lease <= 0 {
		lease = defaultDeliveryLease
	}
	now := s.now()
	leaseUntil := now.Add(lease)
	claimID := uuid.NewString()

	record := &deliveryClaimRecord{
		ID:         uuid.NewString(),
		DeliveryID: key,
		ClaimID:    claimID,
		Status:     deliveryStatusProcessing,
		Attempts:   1,
		LeaseMS:    lease.Milliseconds(),
		LeaseUntil: &leaseUntil,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.db.NewInsert().Model(record).Exec(ctx)
	if err == nil {
		return claimID, true, nil
	}
	if !isUniqueViolation(err) {
		return "", false, err
	}

	existing, err := s.find(ctx, "delivery_id", key)
	if err != nil {
		return "", false, err
	}
	if existing == nil {
		return "", false, fmt.Errorf("sqlstore: delivery %q vanished while claiming", key)
	}
	if !claimable(existing, now) {
		return "", false, nil
	}

	// the previous claim id guards the swap so only one instance wins
	res, err := s.db.NewUpdate().
		Model((*deliveryClaimRecord)(nil)).
		Set("claim_id = ?", claimID).
		Set("status = ?", deliveryStatusProcessing).
		Set("attempts = ?", existing.Attempts+1).
		Set("lease_ms = ?", lease.Milliseconds()).
		Set("lease_until = ?", leaseUntil).
		Set("next_attempt_at = NULL").
		Set("updated_at = ?", now).
		Where("delivery_id = ?", key).
		Where("claim_id = ?", existing.ClaimID).
		Exec(ctx)
	if err != nil {
		return "", false, err
	}
	if affected(res) != 1 {
		return "", false, nil
	}
	return claimID, true, nil
}

// Complete marks the claim done. The key stays blocked for the lease the
// claim was taken with. Unknown or already settled claims are ignored.
func (s *DeliveryClaimStore) Complete(ctx context.Context, claimID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: delivery claim store is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return nil
	}
	record, err := s.find(ctx, "claim_id", claimID)
	if err != nil || record == nil || record.Status != deliveryStatusProcessing {
		return err
	}
	now := s.now()
	_, err = s.db.NewUpdate().
		Model((*deliveryClaimRecord)(nil)).
		Set("status = ?", deliveryStatusDone).
		Set("lease_until = ?", now.Add(time.Duration(record.LeaseMS)*time.Millisecond)).
		Set("updated_at = ?", now).
		Where("claim_id = ?", claimID).
		Where("status = ?", deliveryStatusProcessing).
		Exec(ctx)
	return err
}

// Fail releases the claim for a retry at retryAt. A zero retryAt allows an
// immediate retry.
func (s *DeliveryClaimStore) Fail(ctx context.Context, claimID string, cause error, retryAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: delivery claim store is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return nil
	}
	now := s.now()
	if retryAt.IsZero() {
		retryAt = now
	}
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}
	_, err := s.db.NewUpdate().
		Model((*deliveryClaimRecord)(nil)).
		Set("status = ?", deliveryStatusRetryable).
		Set("next_attempt_at = ?", retryAt).
		Set("lease_until = NULL").
		Set("last_error = ?", lastError).
		Set("updated_at = ?", now).
		Where("claim_id = ?", claimID).
		Where("status = ?", deliveryStatusProcessing).
		Exec(ctx)
	return err
}

// Attempts reports how many times the delivery key has been claimed.
func (s *DeliveryClaimStore) Attempts(ctx context.Context, key string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: delivery claim store is not configured")
	}
	record, err := s.find(ctx, "delivery_id", strings.TrimSpace(key))
	if err != nil || record == nil {
		return 0, err
	}
	return record.Attempts, nil
}

// PurgeCompleted deletes done deliveries whose lease ended before the cutoff.
func (s *DeliveryClaimStore) PurgeCompleted(ctx context.Context, before time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: delivery claim store is not configured")
	}
	var records []*deliveryClaimRecord
	if err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", deliveryStatusDone).
		Scan(ctx); err != nil {
		return 0, err
	}
	// sqlite keeps timestamps as text, so the cutoff is applied here
	ids := make([]string, 0, len(records))
	for _, record := range records {
		if record.LeaseUntil != nil && record.LeaseUntil.Before(before) {
			ids = append(ids, record.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.NewDelete().
		Model((*deliveryClaimRecord)(nil)).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return int(affected(res)), nil
}

func (s *DeliveryClaimStore) find(ctx context.Context, column, value string) (*deliveryClaimRecord, error) {
	record := &deliveryClaimRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
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

func (s *DeliveryClaimStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func claimable(record *deliveryClaimRecord, now time.Time) bool {
	if record.Status == deliveryStatusRetryable {
		return record.NextAttemptAt == nil || !now.Before(*record.NextAttemptAt)
	}
	return record.LeaseUntil != nil && !now.Before(*record.LeaseUntil)
}

func affected(res sql.Result) int64 {
	if res == nil {
		return 0
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return rows
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
