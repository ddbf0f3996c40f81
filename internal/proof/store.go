package proof

import (
	"context"

	id "veil/pkg/domain"
)

// Store persists interaction records and issued proofs.
//
// Implementations return sentinel.ErrNotFound for missing rows and
// sentinel.ErrConflict when a record ID is already taken by a submission
// with a different payload.
type Store interface {
	// SaveRecord stores a record under its caller-assigned ID.
	SaveRecord(ctx context.Context, r InteractionRecord) error
	// GetRecord looks up a record by its caller-assigned ID.
	GetRecord(ctx context.Context, recordID id.InteractionID) (InteractionRecord, error)
	// GetRecordByCommitment looks up the record behind a commitment.
	GetRecordByCommitment(ctx context.Context, cid id.CommitmentID) (InteractionRecord, error)

	// SaveProof stores an issued proof.
	SaveProof(ctx context.Context, p Proof) error
	// GetProof looks up a proof by proof ID.
	GetProof(ctx context.Context, proofID id.ProofID) (Proof, error)
	// GetProofByCommitment looks up the proof issued for a commitment.
	GetProofByCommitment(ctx context.Context, cid id.CommitmentID) (Proof, error)
}
