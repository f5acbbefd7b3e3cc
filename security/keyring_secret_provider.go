package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-commit-hooks/core"
)

var ErrNoMatchingKey = errors.New("security: no key matches the sealed value")

// KeyringDiagnostic reports a decrypt served by a retired key. Hosts use it to
// find auth data that still needs resealing.
type KeyringDiagnostic struct {
	KeyID   string
	Version int
	Primary string
}

type KeyringOption func(*KeyringSecretProvider)

// KeyringSecretProvider seals with the primary key and opens with whichever
// key the envelope names, so the application key can rotate without
// invalidating stored hook secrets.
type KeyringSecretProvider struct {
	primary  *AppKeySecretProvider
	retired  map[string]*AppKeySecretProvider
	onRetire func(KeyringDiagnostic)

	mu       sync.Mutex
	fallback int
}

func WithRetiredKey(provider *AppKeySecretProvider) KeyringOption {
	return func(k *KeyringSecretProvider) {
		if provider != nil {
			k.retired[keyringSlot(provider.Metadata())] = provider
		}
	}
}

func WithRetiredKeyDiagnostics(hook func(KeyringDiagnostic)) KeyringOption {
	return func(k *KeyringSecretProvider) {
		k.onRetire = hook
	}
}

func NewKeyringSecretProvider(primary *AppKeySecretProvider, opts ...KeyringOption) (*KeyringSecretProvider, error) {
	if primary == nil {
		return nil, fmt.Errorf("security: primary secret provider is required")
	}
	keyring := &KeyringSecretProvider{
		primary: primary,
		retired: map[string]*AppKeySecretProvider{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(keyring)
		}
	}
	delete(keyring.retired, keyringSlot(primary.Metadata()))
	return keyring, nil
}

func (k *KeyringSecretProvider) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if k == nil || k.primary == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	return k.primary.Encrypt(ctx, plaintext)
}

func (k *KeyringSecretProvider) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if k == nil || k.primary == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return nil, err
	}
	primaryID, primaryVersion := k.primary.Metadata()
	if meta.KeyID == primaryID && meta.Version == primaryVersion {
		return k.primary.Decrypt(ctx, ciphertext)
	}
	retired, ok := k.retired[keyringSlot(meta.KeyID, meta.Version)]
	if !ok {
		return nil, fmt.Errorf("%w: %s:%d", ErrNoMatchingKey, meta.KeyID, meta.Version)
	}
	plaintext, err := retired.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, err
	}
	k.mu.Lock()
	k.fallback++
	k.mu.Unlock()
	if k.onRetire != nil {
		k.onRetire(KeyringDiagnostic{
			KeyID:   meta.KeyID,
			Version: meta.Version,
			Primary: keyringSlot(primaryID, primaryVersion),
		})
	}
	return plaintext, nil
}

// Reseal opens a value with any known key and seals it again with the
// primary key. Values already on the primary key come back unchanged.
func (k *KeyringSecretProvider) Reseal(ctx context.Context, ciphertext []byte) ([]byte, bool, error) {
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return nil, false, err
	}
	primaryID, primaryVersion := k.primary.Metadata()
	if meta.KeyID == primaryID && meta.Version == primaryVersion {
		return ciphertext, false, nil
	}
	plaintext, err := k.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, false, err
	}
	sealed, err := k.Encrypt(ctx, plaintext)
	if err != nil {
		return nil, false, err
	}
	return sealed, true, nil
}

// RetiredDecrypts counts decrypts served by a retired key.
func (k *KeyringSecretProvider) RetiredDecrypts() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.fallback
}

func (k *KeyringSecretProvider) Metadata() (string, int) {
	if k == nil {
		return "", 0
	}
	return k.primary.Metadata()
}

func keyringSlot(keyID string, version int) string {
	return fmt.Sprintf("%s:%d", strings.TrimSpace(keyID), version)
}

var _ core.SecretProvider = (*KeyringSecretProvider)(nil)
