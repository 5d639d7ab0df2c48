package value

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashing. The version suffix allows the
// algorithm to change without colliding with old digests.
const (
	DomainDocument = "crmorbit/document/v1"
	DomainEvent    = "crmorbit/event/v1"
	DomainBatch    = "crmorbit/batch/v1"
)

// HashBytes computes SHA256(domain + 0x00 + data) as lowercase hex.
// The null separator prevents domain/data boundary ambiguity.
func HashBytes(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash canonically encodes v and hashes it under domain.
func Hash(domain string, v any) (string, error) {
	data, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return HashBytes(domain, data), nil
}
