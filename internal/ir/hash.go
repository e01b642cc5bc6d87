package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// CoerceID maps an external run identifier to the canonical UUID layout.
//
// Well-formed 36-character UUIDs are returned unchanged. Any other non-empty
// string is hashed with SHA-256 and the digest is laid out as a version 4,
// variant "a" UUID, so the same input always yields the same identifier.
// The empty string stays empty.
func CoerceID(raw string) string {
	if raw == "" {
		return ""
	}
	if len(raw) == 36 {
		if _, err := uuid.Parse(raw); err == nil {
			return raw
		}
	}
	return uuidFromSeed(raw)
}

// CoerceAnyID coerces a decoded JSON value. Absent (nil) values yield "".
// Non-string values are rejected.
func CoerceAnyID(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return CoerceID(val), nil
	default:
		return "", fmt.Errorf("identifier must be a string, got %T", v)
	}
}

// uuidFromSeed formats SHA256(seed) as xxxxxxxx-xxxx-4xxx-axxx-xxxxxxxxxxxx.
// Hex digits 12 and 16 are replaced by the version and variant markers.
func uuidFromSeed(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	h := hex.EncodeToString(sum[:])
	return h[0:8] + "-" + h[8:12] + "-4" + h[13:16] + "-a" + h[17:20] + "-" + h[20:32]
}
