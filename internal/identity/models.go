// Package identity is the anonymous identity registry. It is the only place
// an owner reference and an anonymous handle coexist; nothing it returns
// outside ResolveHandle ever carries the owner side of the mapping.
package identity

import (
	"time"

	id "veil/pkg/domain"
)

// RevealState tracks how much of an identity has been disclosed. Transitions
// are monotonic: once FullyRevealed, an identity never regresses.
type RevealState string

const (
	StateSealed            RevealState = "sealed"
	StatePartiallyRevealed RevealState = "partially_revealed"
	StateFullyRevealed     RevealState = "fully_revealed"
)

var revealStateRank = map[RevealState]int{
	StateSealed:            0,
	StatePartiallyRevealed: 1,
	StateFullyRevealed:     2,
}

// AllowsTransitionTo reports whether moving to next respects monotonicity.
// Re-marking the current state is allowed (idempotent callers).
func (s RevealState) AllowsTransitionTo(next RevealState) bool {
	from, okFrom := revealStateRank[s]
	to, okTo := revealStateRank[next]
	return okFrom && okTo && to >= from
}

// AnonymousIdentity is the per-(owner, tier) pseudonym record. Never deleted:
// after a reveal the record stays for audit with RevealState reflecting the
// final disclosure state. The OwnerRef field stays inside this package's
// store boundary.
type AnonymousIdentity struct {
	Handle      id.Handle
	Tier        id.Tier
	OwnerRef    id.OwnerRef
	RevealState RevealState
	CreatedAt   time.Time
}

// Public is the registry's outward view of an identity, with the owner
// mapping stripped.
type Public struct {
	Handle      id.Handle   `json:"handle"`
	Tier        id.Tier     `json:"tier"`
	RevealState RevealState `json:"reveal_state"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Public strips the owner reference.
func (a AnonymousIdentity) Public() Public {
	return Public{
		Handle:      a.Handle,
		Tier:        a.Tier,
		RevealState: a.RevealState,
		CreatedAt:   a.CreatedAt,
	}
}
