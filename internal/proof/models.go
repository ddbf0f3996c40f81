package proof

import (
	"strings"
	"time"

	"veil/internal/commitment"
	id "veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
)

// maxRecordIDLen bounds caller-assigned interaction IDs.
const maxRecordIDLen = 128

// InteractionRecord is a caller-submitted sensitive interaction. The raw
// payload never reaches this subsystem; only its hash is retained.
type InteractionRecord struct {
	ID           id.InteractionID       `json:"id"`
	Handle       id.Handle              `json:"handle"`
	Category     string                 `json:"category"`
	PayloadHash  commitment.PayloadHash `json:"payload_hash"`
	Timestamp    time.Time              `json:"timestamp"`
	Metadata     map[string]string      `json:"metadata,omitempty"`
	CommitmentID id.CommitmentID        `json:"commitment_id"`
}

func (r InteractionRecord) Validate() error {
	if r.ID == "" {
		return dErrors.New(dErrors.CodeMalformedInput, "interaction id is required")
	}
	if len(r.ID) > maxRecordIDLen {
		return dErrors.New(dErrors.CodeMalformedInput, "interaction id too long")
	}
	if strings.TrimSpace(r.Category) == "" {
		return dErrors.New(dErrors.CodeMalformedInput, "category is required")
	}
	if r.PayloadHash.IsZero() {
		return dErrors.New(dErrors.CodeMalformedInput, "payload hash is required")
	}
	return nil
}

// Proof binds a commitment to a finalized checkpoint. It is verifiable
// offline: the signature covers the commitment and root, and the inclusion
// path recomputes the root from the committed hash.
type Proof struct {
	ID                id.ProofID               `json:"proof_id"`
	CommitmentID      id.CommitmentID          `json:"commitment_id"`
	RecordID          id.InteractionID         `json:"record_id"`
	CheckpointID      id.CheckpointID          `json:"checkpoint_id"`
	RootHash          commitment.PayloadHash   `json:"root_hash"`
	InclusionPath     []commitment.PathElement `json:"inclusion_path"`
	Signature         []byte                   `json:"signature"`
	VerificationKeyID string                   `json:"verification_key_id"`
	IssuedAt          time.Time                `json:"issued_at"`
}

// Receipt is what a submitter gets back. Proof is nil while the commitment
// waits in an open batch; the caller retries with the same record ID.
type Receipt struct {
	RecordID     id.InteractionID `json:"record_id"`
	CommitmentID id.CommitmentID  `json:"commitment_id"`
	Proof        *Proof           `json:"proof,omitempty"`
}

// Verification is the public, unauthenticated view of a proof check.
type Verification struct {
	Valid          bool                     `json:"valid"`
	CheckpointID   id.CheckpointID          `json:"checkpoint_id"`
	CheckpointRoot commitment.PayloadHash   `json:"checkpoint_root"`
	InclusionPath  []commitment.PathElement `json:"inclusion_path"`
}
