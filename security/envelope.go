package security

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	envelopePrefix    = "commithooks.secret.v1:"
	envelopeAlgorithm = "aes-256-gcm"
)

// envelope is the stored form of a sealed hook secret:
// commithooks.secret.v1:{"kid":...,"ver":...,"alg":...,"nonce":...,"ciphertext":...}
type envelope struct {
	KeyID      string `json:"kid"`
	Version    int    `json:"ver"`
	Algorithm  string `json:"alg"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type EnvelopeMetadata struct {
	KeyID     string
	Version   int
	Algorithm string
}

// ParseEnvelopeMetadata reads the key reference of a sealed value without
// opening it.
func ParseEnvelopeMetadata(ciphertext []byte) (EnvelopeMetadata, error) {
	env, err := decodeEnvelope(ciphertext)
	if err != nil {
		return EnvelopeMetadata{}, err
	}
	return EnvelopeMetadata{KeyID: env.KeyID, Version: env.Version, Algorithm: env.Algorithm}, nil
}

func encodeEnvelope(env envelope) ([]byte, error) {
	env.KeyID = strings.TrimSpace(env.KeyID)
	env.Algorithm = strings.ToLower(strings.TrimSpace(env.Algorithm))
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("security: encode envelope: %w", err)
	}
	return append([]byte(envelopePrefix), data...), nil
}

func decodeEnvelope(ciphertext []byte) (envelope, error) {
	if len(ciphertext) == 0 {
		return envelope{}, fmt.Errorf("security: ciphertext is required")
	}
	payload, ok := strings.CutPrefix(string(ciphertext), envelopePrefix)
	if !ok {
		return envelope{}, fmt.Errorf("security: invalid ciphertext envelope prefix")
	}
	var parsed envelope
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return envelope{}, fmt.Errorf("security: decode envelope: %w", err)
	}
	parsed.KeyID = strings.TrimSpace(parsed.KeyID)
	parsed.Algorithm = strings.ToLower(strings.TrimSpace(parsed.Algorithm))
	if parsed.Algorithm == "" {
		parsed.Algorithm = envelopeAlgorithm
	}
	if parsed.Ciphertext == "" {
		return envelope{}, fmt.Errorf("security: envelope ciphertext is required")
	}
	return parsed, nil
}

func decodePayload(field string, value string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("security: decode %s: %w", field, err)
	}
	return decoded, nil
}
