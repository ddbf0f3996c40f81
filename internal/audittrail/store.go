package audittrail

import (
	"context"
	"time"

	id "veil/pkg/domain"
)

// Store is the append-only persistence surface. Commitments append with an
// unassigned leaf slot; FinalizeCheckpoint later assigns a contiguous leaf
// range in batch order, which is what keeps checkpoint ranges gapless and
// non-overlapping even with several batch shards appending concurrently.
// There is no update or delete for committed data.
type Store interface {
	// AppendCommitment durably appends a commitment. The leaf index stays
	// unassigned (LeafUnassigned) until the commitment's batch is sealed.
	AppendCommitment(ctx context.Context, c Commitment) (Commitment, error)

	// FinalizeCheckpoint atomically assigns the next contiguous leaf range
	// to the commitments in order and seals the checkpoint over it. Returns
	// the checkpoint with FirstLeaf/LastLeaf filled in, or
	// sentinel.ErrConflict if any commitment is already sealed.
	FinalizeCheckpoint(ctx context.Context, cp Checkpoint, order []id.CommitmentID) (Checkpoint, error)

	GetCommitment(ctx context.Context, cid id.CommitmentID) (Commitment, error)
	GetCheckpoint(ctx context.Context, cpID id.CheckpointID) (Checkpoint, error)
	LatestCheckpoint(ctx context.Context) (Checkpoint, bool, error)

	// ListPendingCommitments returns commitments not yet covered by any
	// checkpoint, in append order. Used for crash recovery re-batching.
	ListPendingCommitments(ctx context.Context) ([]Commitment, error)

	// ListCommitmentsRange returns sealed commitments with FirstLeaf <=
	// LeafIndex <= LastLeaf in leaf order.
	ListCommitmentsRange(ctx context.Context, firstLeaf, lastLeaf int64) ([]Commitment, error)

	// ListCommitmentsByHandle returns a handle's interaction history without
	// exposing any owner mapping.
	ListCommitmentsByHandle(ctx context.Context, handle id.Handle) ([]Commitment, error)

	ListCheckpoints(ctx context.Context, from, to time.Time) ([]Checkpoint, error)
}

// EntryStore persists append-only audit entries.
type EntryStore interface {
	AppendEntry(ctx context.Context, e Entry) error
	ListEntriesBySubject(ctx context.Context, subject string) ([]Entry, error)
	ListRecentEntries(ctx context.Context, limit int) ([]Entry, error)
}
