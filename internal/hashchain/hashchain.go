// Package hashchain provides the digest primitive for the accountability
// ledger. Every ledger entry's identity is a SHA-256 digest over a canonical
// serialization of its fields plus the previous entry's digest; the same
// function is used on the write path and the verify path.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// CanonVersion identifies the canonical serialization format. Changing the
// serialization invalidates every historical hash, so any future change must
// bump this and keep the old format around for verification of old entries.
const CanonVersion = 1

// GenesisPrev is the sentinel previous_hash of the entry at block 0.
const GenesisPrev = "genesis"

// Digest computes the deterministic SHA-256 hex digest of an entry.
// payload must already be in canonical form (see CanonicalPayload).
// The timestamp is rendered as RFC3339Nano in UTC so the same instant
// always serializes to the same bytes.
func Digest(entryType, payload, prevHash string, ts time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s",
		entryType, payload, prevHash, ts.UTC().Format(time.RFC3339Nano),
	)
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalPayload normalizes arbitrary caller-supplied JSON into the
// canonical form that is stored and hashed. Round-tripping through `any`
// sorts object keys and strips insignificant whitespace, so two logically
// identical documents canonicalize to the same bytes.
func CanonicalPayload(raw []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("payload is not valid JSON: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	return string(out), nil
}

// Sum256 returns the hex-encoded SHA-256 digest of data. Used by the root
// anchor to fold the concatenation of entry hashes into one checkpoint digest.
func Sum256(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
