package store

import (
	"context"

	"veil/internal/reveal"
	id "veil/pkg/domain"
)

// Store persists reveal requests and their encrypted partial-disclosure
// artifacts. The stage pointer is the only mutable column; every mutation is
// guarded by the caller's expected from-stage so concurrent transitions
// cannot race past each other.
//
// Implementations return sentinel.ErrNotFound for missing requests,
// sentinel.ErrConflict when Create would violate per-handle exclusivity or
// UpdateStage loses its compare-and-swap.
type Store interface {
	// Create persists a new request. At most one non-terminal request may
	// exist per handle.
	Create(ctx context.Context, r reveal.Request) error
	// Get returns a request by ID, terminal or not.
	Get(ctx context.Context, requestID id.RevealRequestID) (reveal.Request, error)
	// GetActiveByHandle returns the handle's non-terminal request, if any.
	GetActiveByHandle(ctx context.Context, handle id.Handle) (reveal.Request, error)
	// UpdateStage moves a request from fromStage to r.Stage, persisting the
	// countersignature fields along the way.
	UpdateStage(ctx context.Context, r reveal.Request, fromStage reveal.Stage) error
	// ListInStage returns every request currently in the given stage, used
	// by the retention sweep.
	ListInStage(ctx context.Context, stage reveal.Stage) ([]reveal.Request, error)

	// SaveArtifact attaches the encrypted partial-disclosure artifact.
	SaveArtifact(ctx context.Context, requestID id.RevealRequestID, a reveal.Artifact) error
	// GetArtifact returns the artifact for a request.
	GetArtifact(ctx context.Context, requestID id.RevealRequestID) (reveal.Artifact, error)
}
