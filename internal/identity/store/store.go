package store

import (
	"context"

	"veil/internal/identity"
	id "veil/pkg/domain"
)

// Store persists anonymous identities. Save must be atomic with respect to
// both uniqueness constraints: one identity per (owner, tier) and one owner
// per handle. Identities are never deleted.
type Store interface {
	// Save inserts a new identity. Returns sentinel.ErrConflict wrapped with
	// the violated constraint: (owner, tier) already assigned, or handle
	// already taken.
	Save(ctx context.Context, ident identity.AnonymousIdentity) error

	GetByHandle(ctx context.Context, handle id.Handle) (identity.AnonymousIdentity, error)
	GetByOwnerTier(ctx context.Context, owner id.OwnerRef, tier id.Tier) (identity.AnonymousIdentity, error)

	// UpdateRevealState persists a monotonic reveal-state change.
	UpdateRevealState(ctx context.Context, handle id.Handle, state identity.RevealState) error
}
