package handler

import (
	"time"

	"veil/internal/commitment"
	"veil/internal/proof"
	dErrors "veil/pkg/domain-errors"
)

// ReceiptResponse is returned for POST /v1/interactions.
type ReceiptResponse struct {
	RecordID     string         `json:"record_id"`
	CommitmentID string         `json:"commitment_id"`
	Status       string         `json:"status"`
	Proof        *ProofResponse `json:"proof,omitempty"`
	Error        string         `json:"error,omitempty"`
	Retryable    bool           `json:"retryable,omitempty"`
}

// ProofResponse is the wire form of an issued proof with its verification.
type ProofResponse struct {
	ProofID           string                   `json:"proof_id"`
	CommitmentID      string                   `json:"commitment_id"`
	CheckpointID      string                   `json:"checkpoint_id"`
	CheckpointRoot    string                   `json:"checkpoint_root"`
	InclusionPath     []commitment.PathElement `json:"inclusion_path"`
	Signature         []byte                   `json:"signature"`
	VerificationKeyID string                   `json:"verification_key_id"`
	IssuedAt          time.Time                `json:"issued_at"`
	Valid             *bool                    `json:"valid,omitempty"`
}

// FromReceipt converts a domain receipt.
func FromReceipt(receipt proof.Receipt) ReceiptResponse {
	resp := ReceiptResponse{
		RecordID:     receipt.RecordID.String(),
		CommitmentID: receipt.CommitmentID.String(),
		Status:       "pending",
	}
	if receipt.Proof != nil {
		resp.Status = "issued"
		resp.Proof = proofResponse(*receipt.Proof)
	}
	return resp
}

// PendingResponse converts a receipt whose finalization failed transiently.
func PendingResponse(receipt proof.Receipt, err error) ReceiptResponse {
	resp := FromReceipt(receipt)
	resp.Status = "pending"
	resp.Error = string(dErrors.CodeOf(err))
	resp.Retryable = true
	return resp
}

// FromProof converts a proof and its verification for GET /v1/proofs/{id}.
func FromProof(p proof.Proof, v proof.Verification) ProofResponse {
	resp := *proofResponse(p)
	resp.Valid = &v.Valid
	resp.CheckpointRoot = v.CheckpointRoot.String()
	return resp
}

func proofResponse(p proof.Proof) *ProofResponse {
	return &ProofResponse{
		ProofID:           p.ID.String(),
		CommitmentID:      p.CommitmentID.String(),
		CheckpointID:      p.CheckpointID.String(),
		CheckpointRoot:    p.RootHash.String(),
		InclusionPath:     p.InclusionPath,
		Signature:         p.Signature,
		VerificationKeyID: p.VerificationKeyID,
		IssuedAt:          p.IssuedAt,
	}
}
