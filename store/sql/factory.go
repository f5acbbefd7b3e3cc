package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-commit-hooks/core"
)

// RepositoryFactory builds every sql backed store over one bun db.
type RepositoryFactory struct {
	db      *bun.DB
	secrets core.SecretProvider

	hookStore       *HookStore
	authDataStore   *AuthDataStore
	quotaStateStore *QuotaStateStore
	deliveryStore   *DeliveryClaimStore
}

func NewRepositoryFactory(secrets core.SecretProvider) *RepositoryFactory {
	return &RepositoryFactory{secrets: secrets}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, secrets core.SecretProvider) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(secrets)
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, secrets core.SecretProvider) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(secrets)
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.hookStore != nil && f.authDataStore != nil && f.quotaStateStore != nil && f.deliveryStore != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) HookStore() *HookStore {
	if f == nil {
		return nil
	}
	return f.hookStore
}

func (f *RepositoryFactory) AuthDataStore() *AuthDataStore {
	if f == nil {
		return nil
	}
	return f.authDataStore
}

func (f *RepositoryFactory) QuotaStateStore() *QuotaStateStore {
	if f == nil {
		return nil
	}
	return f.quotaStateStore
}

// DeliveryClaimStore is the durable idempotency store for the webhook
// listener.
func (f *RepositoryFactory) DeliveryClaimStore() *DeliveryClaimStore {
	if f == nil {
		return nil
	}
	return f.deliveryStore
}

// Options returns the service options that route snapshots and quota
// observations to the sql stores.
func (f *RepositoryFactory) Options(lowWaterMark int) []core.Option {
	if f == nil {
		return nil
	}
	return []core.Option{
		core.WithHookSnapshotStore(f.hookStore),
		core.WithAuthDataSnapshotStore(f.authDataStore),
		core.WithQuotaObserver(newQuotaTracker(f.quotaStateStore, lowWaterMark)),
	}
}

func (f *RepositoryFactory) initStores() error {
	hookStore, err := NewHookStore(f.db)
	if err != nil {
		return err
	}
	f.hookStore = hookStore
	authDataStore, err := NewAuthDataStore(f.db, f.secrets)
	if err != nil {
		return err
	}
	f.authDataStore = authDataStore
	quotaStateStore, err := NewQuotaStateStore(f.db)
	if err != nil {
		return err
	}
	f.quotaStateStore = quotaStateStore
	deliveryStore, err := NewDeliveryClaimStore(f.db)
	if err != nil {
		return err
	}
	f.deliveryStore = deliveryStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
