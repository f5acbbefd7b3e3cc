package core

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/google/go-github/v66/github"
)

// CallbackURL builds the delivery url GitHub posts to for a public key.
func (c Config) CallbackURL(pubKey string) (string, error) {
	base, err := c.CallbackBase()
	if err != nil {
		return "", err
	}
	return base + strings.TrimSpace(pubKey), nil
}

// PubKeyFromPath returns whatever follows the callback path inside a request
// path or a full callback url.
func PubKeyFromPath(path string, callbackPath string) (string, bool) {
	marker := "/" + strings.Trim(strings.TrimSpace(callbackPath), "/") + "/"
	if marker == "//" {
		marker = DefaultCallbackPath
	}
	index := strings.Index(path, marker)
	if index == -1 {
		return "", false
	}
	pubKey := path[index+len(marker):]
	if strings.TrimSpace(pubKey) == "" {
		return "", false
	}
	return pubKey, true
}

// SignPayload returns the X-Hub-Signature value GitHub sends for body.
func SignPayload(secret string, body []byte) string {
	return "sha1=" + hmacSHA1Hex([]byte(secret), body)
}

// VerifySignature checks an X-Hub-Signature header against the raw body.
func VerifySignature(signature string, body []byte, secret string) bool {
	if !strings.HasPrefix(signature, "sha1=") {
		return false
	}
	return github.ValidateSignature(signature, body, []byte(secret)) == nil
}

func hmacSHA1Hex(key []byte, message []byte) string {
	mac := hmac.New(sha1.New, key)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}
