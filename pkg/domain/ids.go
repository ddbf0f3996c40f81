package domain

import (
	"github.com/google/uuid"

	dErrors "veil/pkg/domain-errors"
)

// Typed IDs prevent cross-entity assignment at compile time. Parse* functions
// are the only way to build one from untrusted input; they reject empty,
// malformed, and nil UUIDs at the trust boundary.
type (
	// OwnerRef is the internal reference to a real user. It never crosses the
	// registry boundary in responses.
	OwnerRef uuid.UUID

	// CommitmentID identifies an append-only commitment in the audit trail.
	CommitmentID uuid.UUID

	// ProofID identifies an issued proof.
	ProofID uuid.UUID

	// CheckpointID identifies a finalized Merkle checkpoint.
	CheckpointID uuid.UUID

	// RevealRequestID identifies a progressive reveal request.
	RevealRequestID uuid.UUID
)

// InteractionID is the caller-assigned identifier of an interaction record.
// Callers own the format; submissions are idempotent on it, so it is an
// opaque string rather than a UUID.
type InteractionID string

func (i InteractionID) String() string { return string(i) }

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return u, nil
}

// ParseOwnerRef validates and returns an OwnerRef.
func ParseOwnerRef(s string) (OwnerRef, error) {
	u, err := parseUUID(s)
	return OwnerRef(u), err
}

// ParseCommitmentID validates and returns a CommitmentID.
func ParseCommitmentID(s string) (CommitmentID, error) {
	u, err := parseUUID(s)
	return CommitmentID(u), err
}

// ParseProofID validates and returns a ProofID.
func ParseProofID(s string) (ProofID, error) {
	u, err := parseUUID(s)
	return ProofID(u), err
}

// ParseCheckpointID validates and returns a CheckpointID.
func ParseCheckpointID(s string) (CheckpointID, error) {
	u, err := parseUUID(s)
	return CheckpointID(u), err
}

// ParseRevealRequestID validates and returns a RevealRequestID.
func ParseRevealRequestID(s string) (RevealRequestID, error) {
	u, err := parseUUID(s)
	return RevealRequestID(u), err
}

// NewOwnerRef returns a fresh OwnerRef.
func NewOwnerRef() OwnerRef { return OwnerRef(uuid.New()) }

// NewCommitmentID returns a fresh CommitmentID.
func NewCommitmentID() CommitmentID { return CommitmentID(uuid.New()) }

// NewProofID returns a fresh ProofID.
func NewProofID() ProofID { return ProofID(uuid.New()) }

// NewCheckpointID returns a fresh CheckpointID.
func NewCheckpointID() CheckpointID { return CheckpointID(uuid.New()) }

// NewRevealRequestID returns a fresh RevealRequestID.
func NewRevealRequestID() RevealRequestID { return RevealRequestID(uuid.New()) }

func (r OwnerRef) String() string        { return uuid.UUID(r).String() }
func (c CommitmentID) String() string    { return uuid.UUID(c).String() }
func (p ProofID) String() string         { return uuid.UUID(p).String() }
func (c CheckpointID) String() string    { return uuid.UUID(c).String() }
func (r RevealRequestID) String() string { return uuid.UUID(r).String() }

func (r OwnerRef) IsNil() bool        { return uuid.UUID(r) == uuid.Nil }
func (c CommitmentID) IsNil() bool    { return uuid.UUID(c) == uuid.Nil }
func (p ProofID) IsNil() bool         { return uuid.UUID(p) == uuid.Nil }
func (c CheckpointID) IsNil() bool    { return uuid.UUID(c) == uuid.Nil }
func (r RevealRequestID) IsNil() bool { return uuid.UUID(r) == uuid.Nil }
