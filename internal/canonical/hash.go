package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for fingerprints. The version suffix leaves room for a
// future change of encoding.
const (
	DomainState = "statecore/state/v1"
	DomainTrace = "statecore/trace/v1"
)

// Sum computes SHA-256 with domain separation and returns it hex encoded.
// Format: SHA256(domain + 0x00 + data)
// The null byte keeps the domain/data boundary unambiguous.
func Sum(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash fingerprints the canonical JSON of v under domain.
func Hash(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return Sum(domain, data), nil
}

// StateHash fingerprints a module or view state.
func StateHash(v any) (string, error) {
	return Hash(DomainState, v)
}
