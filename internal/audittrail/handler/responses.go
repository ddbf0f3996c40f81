package handler

import (
	"encoding/hex"
	"time"

	"veil/internal/audittrail"
)

// CheckpointResponse is the public representation of a sealed checkpoint.
type CheckpointResponse struct {
	CheckpointID string    `json:"checkpoint_id"`
	RootHash     string    `json:"root_hash"`
	FirstLeaf    int64     `json:"first_leaf"`
	LastLeaf     int64     `json:"last_leaf"`
	FinalizedAt  time.Time `json:"finalized_at"`
}

// CommitmentResponse is the public representation of a commitment. Unsealed
// commitments omit the leaf index.
type CommitmentResponse struct {
	CommitmentID string    `json:"commitment_id"`
	Handle       string    `json:"handle"`
	Category     string    `json:"category"`
	PayloadHash  string    `json:"payload_hash"`
	LeafIndex    *int64    `json:"leaf_index,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// EntryResponse is the API shape of an audit entry.
type EntryResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Subject   string    `json:"subject"`
	ActorRef  string    `json:"actor_ref,omitempty"`
	FromState string    `json:"from_state,omitempty"`
	ToState   string    `json:"to_state,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Severity  string    `json:"severity"`
	RequestID string    `json:"request_id,omitempty"`
}

func FromCheckpoints(checkpoints []audittrail.Checkpoint) []CheckpointResponse {
	out := make([]CheckpointResponse, 0, len(checkpoints))
	for _, cp := range checkpoints {
		out = append(out, CheckpointResponse{
			CheckpointID: cp.ID.String(),
			RootHash:     hex.EncodeToString(cp.RootHash[:]),
			FirstLeaf:    cp.FirstLeaf,
			LastLeaf:     cp.LastLeaf,
			FinalizedAt:  cp.FinalizedAt,
		})
	}
	return out
}

func FromCommitments(commitments []audittrail.Commitment) []CommitmentResponse {
	out := make([]CommitmentResponse, 0, len(commitments))
	for _, c := range commitments {
		resp := CommitmentResponse{
			CommitmentID: c.ID.String(),
			Handle:       c.Handle.String(),
			Category:     c.Category,
			PayloadHash:  hex.EncodeToString(c.PayloadHash[:]),
			CreatedAt:    c.CreatedAt,
		}
		if c.Sealed() {
			leaf := c.LeafIndex
			resp.LeafIndex = &leaf
		}
		out = append(out, resp)
	}
	return out
}

func FromEntries(entries []audittrail.Entry) []EntryResponse {
	out := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryResponse{
			Timestamp: e.Timestamp,
			Action:    e.Action,
			Subject:   e.Subject,
			ActorRef:  e.ActorRef,
			FromState: e.FromState,
			ToState:   e.ToState,
			Reason:    e.Reason,
			Severity:  string(e.Severity),
			RequestID: e.RequestID,
		})
	}
	return out
}
