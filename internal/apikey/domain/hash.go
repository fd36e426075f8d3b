package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	KeyPrefix       = "vlk_"
	keySecretHexLen = 64
	maskVisible     = 4
)

// HashAPIKey hashes the raw API key using the same strategy as key creation.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// MaskAPIKey keeps the prefix and the first characters of the secret.
func MaskAPIKey(raw string) string {
	secret := strings.TrimPrefix(raw, KeyPrefix)
	if len(secret) > maskVisible {
		secret = secret[:maskVisible]
	}
	return KeyPrefix + secret + strings.Repeat("*", 8)
}

// LooksLikeAPIKey reports whether raw has the shape of an issued key.
func LooksLikeAPIKey(raw string) bool {
	if !strings.HasPrefix(raw, KeyPrefix) {
		return false
	}
	secret := raw[len(KeyPrefix):]
	if len(secret) != keySecretHexLen {
		return false
	}
	_, err := hex.DecodeString(secret)
	return err == nil
}
