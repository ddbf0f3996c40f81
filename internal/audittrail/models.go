// Package audittrail is the append-only source of truth consulted by both
// the proof engine and the reveal state machine. Commitments and checkpoints
// are immutable once appended; the only post-hoc mutation anywhere in the
// system is ephemeral-key discard at purge, which lives in the reveal
// keystore, never here.
package audittrail

import (
	"time"

	"veil/internal/commitment"
	id "veil/pkg/domain"
)

// LeafUnassigned marks a commitment appended but not yet sealed into a
// checkpoint's leaf range.
const LeafUnassigned int64 = -1

// Commitment is the durable record binding an interaction to its payload
// hash and Merkle leaf slot. One commitment per interaction record.
type Commitment struct {
	ID          id.CommitmentID
	Handle      id.Handle
	Category    string
	PayloadHash commitment.PayloadHash
	// LeafIndex is the position in the global leaf sequence, assigned when
	// the commitment's batch seals. Checkpoints cover contiguous,
	// non-overlapping ranges over this sequence.
	LeafIndex int64
	CreatedAt time.Time
}

// Sealed reports whether the commitment has been assigned its leaf slot.
func (c Commitment) Sealed() bool { return c.LeafIndex != LeafUnassigned }

// Checkpoint is a finalized Merkle root over a contiguous leaf range.
type Checkpoint struct {
	ID          id.CheckpointID
	RootHash    commitment.PayloadHash
	FirstLeaf   int64
	LastLeaf    int64
	FinalizedAt time.Time
}

// Severity classifies audit entries for downstream routing. Critical entries
// (denied reveals, authorization failures) feed compliance alerting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Entry is an append-only audit record. Registry operations and every reveal
// stage transition produce one; entries persist permanently even after the
// reveal artifacts they describe are purged.
type Entry struct {
	Timestamp time.Time
	Action    string
	// Subject is the anonymous handle or reveal request ID the entry is
	// about. Never an owner reference.
	Subject   string
	ActorRef  string
	FromState string
	ToState   string
	Reason    string
	Severity  Severity
	RequestID string
	ClientIP  string
	UserAgent string
}

// Audit entry actions.
const (
	ActionIdentityAssigned  = "identity_assigned"
	ActionHandleResolved    = "handle_resolved"
	ActionResolveDenied     = "resolve_denied"
	ActionRevealStateMarked = "reveal_state_marked"
	ActionRevealTransition  = "reveal_transition"
	ActionRevealDenied      = "reveal_denied"
	ActionCheckpointSealed  = "checkpoint_sealed"
	ActionArtifactPurged    = "artifact_purged"
)
