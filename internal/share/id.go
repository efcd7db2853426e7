package share

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// IDBytes is the entropy of an artifact id: 128 bits from crypto/rand.
// Ids are bearer tokens, so guessing one is as hard as guessing a
// random 128-bit key.
const IDBytes = 16

// IDLength is the length of an encoded id: unpadded base64url of IDBytes.
var IDLength = base64.RawURLEncoding.EncodedLen(IDBytes)

// NewID returns a fresh URL-safe artifact id.
func NewID() (string, error) {
	b := make([]byte, IDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidID reports whether s could have been produced by NewID.
func ValidID(s string) bool {
	if len(s) != IDLength {
		return false
	}
	b, err := base64.RawURLEncoding.Strict().DecodeString(s)
	return err == nil && len(b) == IDBytes
}

// fingerprint identifies an id in logs without revealing it.
func fingerprint(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:6])
}
