// Package commitment provides the pure cryptographic utility layer: payload
// hashing, HMAC tagging, and Merkle tree construction/verification. Nothing
// here has side effects; persistence belongs to the audit trail.
package commitment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	dErrors "veil/pkg/domain-errors"
)

// HashSize is the byte length of every digest in the engine.
const HashSize = sha256.Size

// PayloadHash is a one-way commitment to an interaction payload. The raw
// payload is never stored by this subsystem.
type PayloadHash [HashSize]byte

// Hash computes the payload commitment. Deterministic: the same payload
// always yields the same hash, which is what makes recomputation-based
// tamper detection possible.
func Hash(payload []byte) PayloadHash {
	return sha256.Sum256(payload)
}

// ParsePayloadHash decodes a hex-encoded payload hash from untrusted input.
func ParsePayloadHash(s string) (PayloadHash, error) {
	var h PayloadHash
	if len(s) != HashSize*2 {
		return h, dErrors.New(dErrors.CodeMalformedInput, "payload hash must be 64 hex characters")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, dErrors.New(dErrors.CodeMalformedInput, "payload hash is not valid hex")
	}
	copy(h[:], raw)
	return h, nil
}

func (h PayloadHash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether the hash is unset. The all-zero digest is treated as
// "not supplied" at the API boundary, never as a real commitment.
func (h PayloadHash) IsZero() bool { return h == PayloadHash{} }

// Equal is a constant-time comparison.
func (h PayloadHash) Equal(other PayloadHash) bool {
	return hmac.Equal(h[:], other[:])
}

// Tag computes an HMAC-SHA256 over data. Context binding (the commitment
// context string) goes into the key derivation so tags from different
// contexts never collide.
func Tag(key []byte, context string, data []byte) [HashSize]byte {
	mac := hmac.New(sha256.New, deriveKey(key, context))
	mac.Write(data)
	var out [HashSize]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// VerifyTag checks an HMAC tag in constant time.
func VerifyTag(key []byte, context string, data []byte, tag [HashSize]byte) bool {
	expected := Tag(key, context, data)
	return hmac.Equal(expected[:], tag[:])
}

func deriveKey(key []byte, context string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(context))
	return mac.Sum(nil)
}
