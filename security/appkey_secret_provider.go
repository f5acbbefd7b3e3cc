// Package security seals hook secrets before they reach a persistent store.
package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/goliatone/go-commit-hooks/core"
)

type Option func(*AppKeySecretProvider)

// AppKeySecretProvider seals values with AES-GCM under a key derived from
// the application key.
type AppKeySecretProvider struct {
	key     []byte
	keyID   string
	version int
}

func WithKeyID(id string) Option {
	return func(provider *AppKeySecretProvider) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			provider.keyID = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(provider *AppKeySecretProvider) {
		if version > 0 {
			provider.version = version
		}
	}
}

func NewAppKeySecretProvider(keyMaterial []byte, opts ...Option) (*AppKeySecretProvider, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	provider := &AppKeySecretProvider{
		key:     deriveKey(key),
		keyID:   "app-key",
		version: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	return provider, nil
}

func NewAppKeySecretProviderFromString(key string, opts ...Option) (*AppKeySecretProvider, error) {
	return NewAppKeySecretProvider([]byte(key), opts...)
}

func (p *AppKeySecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	gcm, err := p.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, p.additionalData())
	return encodeEnvelope(envelope{
		KeyID:      p.keyID,
		Version:    p.version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	})
}

func (p *AppKeySecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	env, err := decodeEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	if env.Algorithm != envelopeAlgorithm {
		return nil, fmt.Errorf("security: unsupported algorithm %q", env.Algorithm)
	}
	if env.KeyID != "" && env.KeyID != p.keyID {
		return nil, fmt.Errorf("security: key id mismatch: got %q want %q", env.KeyID, p.keyID)
	}
	if env.Version > 0 && env.Version != p.version {
		return nil, fmt.Errorf("security: key version mismatch: got %d want %d", env.Version, p.version)
	}
	nonce, err := decodePayload("nonce", env.Nonce)
	if err != nil {
		return nil, err
	}
	sealed, err := decodePayload("ciphertext payload", env.Ciphertext)
	if err != nil {
		return nil, err
	}
	gcm, err := p.aead()
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("security: invalid nonce size %d", len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, sealed, p.additionalData())
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

func (p *AppKeySecretProvider) Metadata() (string, int) {
	if p == nil {
		return "", 0
	}
	return p.keyID, p.version
}

func (p *AppKeySecretProvider) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(p.key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

// additionalData binds the ciphertext to the key reference stored next to it.
func (p *AppKeySecretProvider) additionalData() []byte {
	return fmt.Appendf(nil, "%s:%d", p.keyID, p.version)
}

func deriveKey(value []byte) []byte {
	if len(value) == 32 {
		return bytes.Clone(value)
	}
	sum := sha256.Sum256(value)
	return sum[:]
}

var _ core.SecretProvider = (*AppKeySecretProvider)(nil)
