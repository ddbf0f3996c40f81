package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"veil/internal/identity"
	id "veil/pkg/domain"
	"veil/pkg/platform/sentinel"
)

type ownerTierKey struct {
	owner id.OwnerRef
	tier  id.Tier
}

// MemoryStore is the mutex-guarded map implementation for tests and dev.
type MemoryStore struct {
	mu          sync.RWMutex
	byHandle    map[id.Handle]identity.AnonymousIdentity
	byOwnerTier map[ownerTierKey]id.Handle
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHandle:    make(map[id.Handle]identity.AnonymousIdentity),
		byOwnerTier: make(map[ownerTierKey]id.Handle),
	}
}

func (s *MemoryStore) Save(_ context.Context, ident identity.AnonymousIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ownerTierKey{owner: ident.OwnerRef, tier: ident.Tier}
	if _, exists := s.byOwnerTier[key]; exists {
		return fmt.Errorf("identity for owner/tier %s: %w", ident.Tier, sentinel.ErrConflict)
	}
	if _, exists := s.byHandle[ident.Handle]; exists {
		return fmt.Errorf("handle %s: %w", ident.Handle, sentinel.ErrAlreadyUsed)
	}
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = time.Now()
	}
	s.byHandle[ident.Handle] = ident
	s.byOwnerTier[key] = ident.Handle
	return nil
}

func (s *MemoryStore) GetByHandle(_ context.Context, handle id.Handle) (identity.AnonymousIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.byHandle[handle]
	if !ok {
		return identity.AnonymousIdentity{}, fmt.Errorf("handle %s: %w", handle, sentinel.ErrNotFound)
	}
	return ident, nil
}

func (s *MemoryStore) GetByOwnerTier(_ context.Context, owner id.OwnerRef, tier id.Tier) (identity.AnonymousIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	handle, ok := s.byOwnerTier[ownerTierKey{owner: owner, tier: tier}]
	if !ok {
		return identity.AnonymousIdentity{}, fmt.Errorf("owner/tier %s: %w", tier, sentinel.ErrNotFound)
	}
	return s.byHandle[handle], nil
}

func (s *MemoryStore) UpdateRevealState(_ context.Context, handle id.Handle, state identity.RevealState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.byHandle[handle]
	if !ok {
		return fmt.Errorf("handle %s: %w", handle, sentinel.ErrNotFound)
	}
	ident.RevealState = state
	s.byHandle[handle] = ident
	return nil
}
