package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	apiKeyPrefix      = "bzk"
	callbackKeyPrefix = "bzc"
	keyEntropyBytes   = 24
)

// GenerateAPIKey returns a new tenant API key. The raw key is shown to the
// caller exactly once; only its digest is stored.
func GenerateAPIKey() (string, error) {
	return generateKey(apiKeyPrefix)
}

// GenerateCallbackKey returns the shared secret used to verify processor
// callback signatures for one company.
func GenerateCallbackKey() (string, error) {
	return generateKey(callbackKeyPrefix)
}

func generateKey(prefix string) (string, error) {
	buf := make([]byte, keyEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key material: %w", err)
	}
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(buf)), nil
}

// DigestAPIKey returns the hex SHA-256 digest stored and indexed for lookup.
func DigestAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// VerifyAPIKey compares a presented key against a stored digest in constant time.
func VerifyAPIKey(raw, digest string) bool {
	computed := DigestAPIKey(raw)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}
