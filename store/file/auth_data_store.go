package filestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goliatone/go-commit-hooks/core"
)

type authDataDocument struct {
	Version  int             `json:"version"`
	AuthData []authDataEntry `json:"authData"`
}

type authDataEntry struct {
	UserID       string             `json:"userId"`
	PublicKey    string             `json:"public"`
	Secret       string             `json:"secret,omitempty"`
	SealedSecret []byte             `json:"sealedSecret,omitempty"`
	Repository   core.RepoKey       `json:"repository"`
	Connection   core.ConnectionRef `json:"connection"`
}

type AuthDataOption func(*AuthDataSnapshotStore)

// WithSecretProvider seals hook secrets before they are written. Documents
// holding sealed secrets cannot be read without a provider.
func WithSecretProvider(secrets core.SecretProvider) AuthDataOption {
	return func(s *AuthDataSnapshotStore) {
		s.secrets = secrets
	}
}

// AuthDataSnapshotStore persists auth data to a single JSON file,
// conventionally commit-hooks/auth-data.json.
type AuthDataSnapshotStore struct {
	*document
	secrets core.SecretProvider
}

func NewAuthDataSnapshotStore(path string, opts ...AuthDataOption) (*AuthDataSnapshotStore, error) {
	doc, err := newDocument(path)
	if err != nil {
		return nil, err
	}
	store := &AuthDataSnapshotStore{document: doc}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *AuthDataSnapshotStore) LoadAuthData(ctx context.Context) ([]core.AuthData, error) {
	data, err := s.read()
	if err != nil {
		return nil, err
	}
	var doc authDataDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("filestore: decode %s: %w", s.path, err)
	}
	if err := checkVersion(s.path, doc.Version); err != nil {
		return nil, err
	}
	out := make([]core.AuthData, 0, len(doc.AuthData))
	for _, entry := range doc.AuthData {
		secret := entry.Secret
		if len(entry.SealedSecret) > 0 {
			if s.secrets == nil {
				return nil, fmt.Errorf("filestore: %s holds sealed secrets but no secret provider is configured", s.path)
			}
			opened, err := s.secrets.Decrypt(ctx, entry.SealedSecret)
			if err != nil {
				return nil, fmt.Errorf("filestore: open secret of %s: %w", entry.PublicKey, err)
			}
			secret = string(opened)
		}
		out = append(out, core.AuthData{
			UserID:     entry.UserID,
			PublicKey:  entry.PublicKey,
			Secret:     secret,
			Repository: entry.Repository,
			Connection: entry.Connection,
		})
	}
	return out, nil
}

func (s *AuthDataSnapshotStore) SaveAuthData(ctx context.Context, records []core.AuthData) error {
	doc := authDataDocument{Version: SnapshotVersion, AuthData: make([]authDataEntry, 0, len(records))}
	for _, record := range records {
		entry := authDataEntry{
			UserID:     record.UserID,
			PublicKey:  record.PublicKey,
			Repository: record.Repository,
			Connection: record.Connection,
		}
		if s.secrets != nil {
			sealed, err := s.secrets.Encrypt(ctx, []byte(record.Secret))
			if err != nil {
				return fmt.Errorf("filestore: seal secret of %s: %w", record.PublicKey, err)
			}
			entry.SealedSecret = sealed
		} else {
			entry.Secret = record.Secret
		}
		doc.AuthData = append(doc.AuthData, entry)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode auth data: %w", err)
	}
	return s.write(data)
}
