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

	"github.com/goliatone/go-commit-hooks/core"
)

var ErrAuthDataNotFound = errors.New("sqlstore: auth data not found")

// AuthDataStore persists auth data in commit_hook_auth_data. Hook secrets are
// sealed with the configured secret provider and never stored in clear.
type AuthDataStore struct {
	db      *bun.DB
	repo    repository.Repository[*authDataRecord]
	secrets core.SecretProvider
}

func NewAuthDataStore(db *bun.DB, secrets core.SecretProvider) (*AuthDataStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	if secrets == nil {
		return nil, fmt.Errorf("sqlstore: secret provider is required")
	}
	repo := repository.NewRepository[*authDataRecord](db, authDataHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid auth data repository wiring: %w", err)
		}
	}
	return &AuthDataStore{db: db, repo: repo, secrets: secrets}, nil
}

func (s *AuthDataStore) LoadAuthData(ctx context.Context) ([]core.AuthData, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var records []*authDataRecord
	if err := s.db.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.created_at ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.AuthData, 0, len(records))
	for _, record := range records {
		data, err := s.open(ctx, record)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

func (s *AuthDataStore) SaveAuthData(ctx context.Context, records []core.AuthData) error {
	if err := s.ready(); err != nil {
		return err
	}
	sealed := make([]*authDataRecord, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	now := time.Now().UTC()
	for _, data := range records {
		key := strings.TrimSpace(data.PublicKey)
		if _, dup := seen[key]; dup || key == "" {
			continue
		}
		seen[key] = struct{}{}
		record, err := s.seal(ctx, data, now)
		if err != nil {
			return err
		}
		sealed = append(sealed, record)
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*authDataRecord)(nil)).
			Where("1 = 1").
			Exec(ctx); err != nil {
			return err
		}
		for _, record := range sealed {
			if _, err := s.repo.CreateTx(ctx, tx, record); err != nil {
				return fmt.Errorf("sqlstore: save auth data: %w", err)
			}
		}
		return nil
	})
}

// FindByPublicKey reads a single record, returning ErrAuthDataNotFound when
// the key is unknown.
func (s *AuthDataStore) FindByPublicKey(ctx context.Context, pubKey string) (core.AuthData, error) {
	if err := s.ready(); err != nil {
		return core.AuthData{}, err
	}
	record := &authDataRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.public_key = ?", strings.TrimSpace(pubKey)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.AuthData{}, ErrAuthDataNotFound
		}
		return core.AuthData{}, err
	}
	return s.open(ctx, record)
}

// Save inserts or replaces the record of data.PublicKey.
func (s *AuthDataStore) Save(ctx context.Context, data core.AuthData) error {
	if err := s.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(data.PublicKey) == "" {
		return fmt.Errorf("sqlstore: auth data public key is required")
	}
	record, err := s.seal(ctx, data, time.Now().UTC())
	if err != nil {
		return err
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*authDataRecord)(nil)).
			Where("public_key = ?", record.PublicKey).
			Exec(ctx); err != nil {
			return err
		}
		_, err := s.repo.CreateTx(ctx, tx, record)
		return err
	})
}

func (s *AuthDataStore) Delete(ctx context.Context, pubKey string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.NewDelete().
		Model((*authDataRecord)(nil)).
		Where("public_key = ?", strings.TrimSpace(pubKey)).
		Exec(ctx)
	return err
}

func (s *AuthDataStore) ready() error {
	if s == nil || s.db == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: auth data store is not configured")
	}
	if s.secrets == nil {
		return fmt.Errorf("sqlstore: secret provider is required")
	}
	return nil
}

func (s *AuthDataStore) seal(ctx context.Context, data core.AuthData, now time.Time) (*authDataRecord, error) {
	sealed, err := s.secrets.Encrypt(ctx, []byte(data.Secret))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: seal hook secret: %w", err)
	}
	return &authDataRecord{
		ID:                uuid.NewString(),
		PublicKey:         strings.TrimSpace(data.PublicKey),
		UserID:            data.UserID,
		SealedSecret:      sealed,
		Server:            data.Repository.Server,
		Owner:             data.Repository.Owner,
		Name:              data.Repository.Name,
		ConnectionID:      data.Connection.ID,
		ProjectExternalID: data.Connection.ProjectExternalID,
		CreatedAt:         now,
	}, nil
}

func (s *AuthDataStore) open(ctx context.Context, record *authDataRecord) (core.AuthData, error) {
	secret, err := s.secrets.Decrypt(ctx, record.SealedSecret)
	if err != nil {
		return core.AuthData{}, fmt.Errorf("sqlstore: open hook secret of %s: %w", record.PublicKey, err)
	}
	return core.AuthData{
		UserID:     record.UserID,
		PublicKey:  record.PublicKey,
		Secret:     string(secret),
		Repository: core.NewRepoKey(record.Server, record.Owner, record.Name),
		Connection: core.ConnectionRef{
			ID:                record.ConnectionID,
			ProjectExternalID: record.ProjectExternalID,
		},
	}, nil
}

func isAuthDataNotFound(err error) bool {
	return errors.Is(err, ErrAuthDataNotFound)
}
