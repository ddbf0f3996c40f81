package proof

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"veil/internal/commitment"
	id "veil/pkg/domain"
)

// statementDomain separates proof statements from any other use of the
// signing key.
const statementDomain = "veil.proof.v1"

// Signer holds the engine's Ed25519 keyring. One key is active for issuance;
// retired keys stay available for verification so historical proofs keep
// their verification key.
type Signer struct {
	mu      sync.RWMutex
	active  string
	private map[string]ed25519.PrivateKey
	public  map[string]ed25519.PublicKey
}

// NewSigner generates a fresh issuing key.
func NewSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	keyID := keyFingerprint(pub)
	return &Signer{
		active:  keyID,
		private: map[string]ed25519.PrivateKey{keyID: priv},
		public:  map[string]ed25519.PublicKey{keyID: pub},
	}, nil
}

// NewSignerFromSeed builds a deterministic signer from a 32-byte seed.
// Production loads the seed from configuration so proofs survive restarts.
func NewSignerFromSeed(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	keyID := keyFingerprint(pub)
	return &Signer{
		active:  keyID,
		private: map[string]ed25519.PrivateKey{keyID: priv},
		public:  map[string]ed25519.PublicKey{keyID: pub},
	}, nil
}

// Rotate installs a new active issuing key. The previous key remains in the
// ring for verification.
func (s *Signer) Rotate() (string, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate signing key: %w", err)
	}
	keyID := keyFingerprint(pub)
	s.mu.Lock()
	s.private[keyID] = priv
	s.public[keyID] = pub
	s.active = keyID
	s.mu.Unlock()
	return keyID, nil
}

// Sign signs a proof statement with the active key and returns the signature
// and the key's identifier.
func (s *Signer) Sign(cid id.CommitmentID, payloadHash, root commitment.PayloadHash, leafIndex int64) ([]byte, string) {
	s.mu.RLock()
	keyID := s.active
	priv := s.private[keyID]
	s.mu.RUnlock()
	return ed25519.Sign(priv, statement(cid, payloadHash, root, leafIndex)), keyID
}

// Verify checks a proof statement signature against the named key.
func (s *Signer) Verify(keyID string, cid id.CommitmentID, payloadHash, root commitment.PayloadHash, leafIndex int64, sig []byte) bool {
	s.mu.RLock()
	pub, ok := s.public[keyID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return ed25519.Verify(pub, statement(cid, payloadHash, root, leafIndex), sig)
}

// PublicKey returns the named verification key, for export to offline
// verifiers.
func (s *Signer) PublicKey(keyID string) (ed25519.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pub, ok := s.public[keyID]
	return pub, ok
}

func statement(cid id.CommitmentID, payloadHash, root commitment.PayloadHash, leafIndex int64) []byte {
	buf := make([]byte, 0, len(statementDomain)+len(cid.String())+2*commitment.HashSize+8)
	buf = append(buf, statementDomain...)
	buf = append(buf, cid.String()...)
	buf = append(buf, payloadHash[:]...)
	buf = append(buf, root[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(leafIndex))
	return buf
}

func keyFingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "ed25519:" + hex.EncodeToString(sum[:8])
}
