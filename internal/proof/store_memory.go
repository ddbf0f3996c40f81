package proof

import (
	"context"
	"fmt"
	"sync"

	id "veil/pkg/domain"
	"veil/pkg/platform/sentinel"
)

// MemoryStore is the in-memory Store used by tests and local development.
type MemoryStore struct {
	mu           sync.RWMutex
	records      map[id.InteractionID]InteractionRecord
	proofs       map[id.ProofID]Proof
	byCommitment map[id.CommitmentID]id.ProofID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:      make(map[id.InteractionID]InteractionRecord),
		proofs:       make(map[id.ProofID]Proof),
		byCommitment: make(map[id.CommitmentID]id.ProofID),
	}
}

func (s *MemoryStore) SaveRecord(_ context.Context, r InteractionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[r.ID]; ok && !existing.PayloadHash.Equal(r.PayloadHash) {
		return fmt.Errorf("record %s: %w", r.ID, sentinel.ErrConflict)
	}
	s.records[r.ID] = r
	return nil
}

func (s *MemoryStore) GetRecord(_ context.Context, recordID id.InteractionID) (InteractionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[recordID]
	if !ok {
		return InteractionRecord{}, fmt.Errorf("record %s: %w", recordID, sentinel.ErrNotFound)
	}
	return r, nil
}

func (s *MemoryStore) GetRecordByCommitment(_ context.Context, cid id.CommitmentID) (InteractionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.CommitmentID == cid {
			return r, nil
		}
	}
	return InteractionRecord{}, fmt.Errorf("record for commitment %s: %w", cid, sentinel.ErrNotFound)
}

func (s *MemoryStore) SaveProof(_ context.Context, p Proof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCommitment[p.CommitmentID]; ok {
		return fmt.Errorf("proof for commitment %s: %w", p.CommitmentID, sentinel.ErrConflict)
	}
	s.proofs[p.ID] = p
	s.byCommitment[p.CommitmentID] = p.ID
	return nil
}

func (s *MemoryStore) GetProof(_ context.Context, proofID id.ProofID) (Proof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proofs[proofID]
	if !ok {
		return Proof{}, fmt.Errorf("proof %s: %w", proofID, sentinel.ErrNotFound)
	}
	return p, nil
}

func (s *MemoryStore) GetProofByCommitment(_ context.Context, cid id.CommitmentID) (Proof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pid, ok := s.byCommitment[cid]
	if !ok {
		return Proof{}, fmt.Errorf("proof for commitment %s: %w", cid, sentinel.ErrNotFound)
	}
	return s.proofs[pid], nil
}
