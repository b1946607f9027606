// Package canonical renders state values as deterministic JSON and
// fingerprints them.
//
// The encoding follows RFC 8785 (JSON Canonicalization Scheme):
//   - Object keys sorted by UTF-16 code units, not UTF-8 bytes
//   - No insignificant whitespace
//   - No HTML escaping; U+2028 and U+2029 are emitted literally
//   - Strings (keys included) are NFC normalized
//
// Unlike a strict JCS profile, null and floats are accepted: module states
// are arbitrary values. NaN and infinities have no JSON form and are rejected.
//
// Two states that marshal to the same bytes are considered equal by the
// scenario harness and share a fingerprint in the journal.
package canonical
