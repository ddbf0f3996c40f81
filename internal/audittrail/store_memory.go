package audittrail

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	id "veil/pkg/domain"
	"veil/pkg/platform/sentinel"
)

// MemoryStore is the in-memory trail used by unit tests and single-node dev
// runs. Append-only discipline is enforced the same way the Postgres store
// does it so tests exercise real invariants.
type MemoryStore struct {
	mu          sync.RWMutex
	commitments []Commitment
	byID        map[id.CommitmentID]int
	checkpoints []Checkpoint
	cpByID      map[id.CheckpointID]int
	entries     []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[id.CommitmentID]int),
		cpByID: make(map[id.CheckpointID]int),
	}
}

func (s *MemoryStore) AppendCommitment(_ context.Context, c Commitment) (Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[c.ID]; exists {
		return Commitment{}, fmt.Errorf("commitment %s: %w", c.ID, sentinel.ErrConflict)
	}
	c.LeafIndex = LeafUnassigned
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.byID[c.ID] = len(s.commitments)
	s.commitments = append(s.commitments, c)
	return c, nil
}

func (s *MemoryStore) FinalizeCheckpoint(_ context.Context, cp Checkpoint, order []id.CommitmentID) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(order) == 0 {
		return Checkpoint{}, fmt.Errorf("empty checkpoint: %w", sentinel.ErrConflict)
	}
	if _, exists := s.cpByID[cp.ID]; exists {
		return Checkpoint{}, fmt.Errorf("checkpoint %s: %w", cp.ID, sentinel.ErrConflict)
	}

	first := int64(0)
	if n := len(s.checkpoints); n > 0 {
		first = s.checkpoints[n-1].LastLeaf + 1
	}

	// Validate before mutating: every commitment must exist and be unsealed.
	for _, cid := range order {
		idx, ok := s.byID[cid]
		if !ok {
			return Checkpoint{}, fmt.Errorf("commitment %s: %w", cid, sentinel.ErrNotFound)
		}
		if s.commitments[idx].Sealed() {
			return Checkpoint{}, fmt.Errorf("commitment %s already sealed: %w", cid, sentinel.ErrConflict)
		}
	}

	for offset, cid := range order {
		s.commitments[s.byID[cid]].LeafIndex = first + int64(offset)
	}
	cp.FirstLeaf = first
	cp.LastLeaf = first + int64(len(order)) - 1
	if cp.FinalizedAt.IsZero() {
		cp.FinalizedAt = time.Now()
	}
	s.cpByID[cp.ID] = len(s.checkpoints)
	s.checkpoints = append(s.checkpoints, cp)
	return cp, nil
}

func (s *MemoryStore) GetCommitment(_ context.Context, cid id.CommitmentID) (Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[cid]
	if !ok {
		return Commitment{}, fmt.Errorf("commitment %s: %w", cid, sentinel.ErrNotFound)
	}
	return s.commitments[idx], nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, cpID id.CheckpointID) (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.cpByID[cpID]
	if !ok {
		return Checkpoint{}, fmt.Errorf("checkpoint %s: %w", cpID, sentinel.ErrNotFound)
	}
	return s.checkpoints[idx], nil
}

func (s *MemoryStore) LatestCheckpoint(_ context.Context) (Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.checkpoints) == 0 {
		return Checkpoint{}, false, nil
	}
	return s.checkpoints[len(s.checkpoints)-1], true, nil
}

func (s *MemoryStore) ListPendingCommitments(_ context.Context) ([]Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Commitment
	for _, c := range s.commitments {
		if !c.Sealed() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListCommitmentsRange(_ context.Context, firstLeaf, lastLeaf int64) ([]Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Commitment, 0, lastLeaf-firstLeaf+1)
	for _, c := range s.commitments {
		if c.Sealed() && c.LeafIndex >= firstLeaf && c.LeafIndex <= lastLeaf {
			out = append(out, c)
		}
	}
	sortByLeaf(out)
	return out, nil
}

func (s *MemoryStore) ListCommitmentsByHandle(_ context.Context, handle id.Handle) ([]Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Commitment
	for _, c := range s.commitments {
		if c.Handle == handle {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListCheckpoints(_ context.Context, from, to time.Time) ([]Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Checkpoint
	for _, cp := range s.checkpoints {
		if !cp.FinalizedAt.Before(from) && (to.IsZero() || !cp.FinalizedAt.After(to)) {
			out = append(out, cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendEntry(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *MemoryStore) ListEntriesBySubject(_ context.Context, subject string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.Subject == subject {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRecentEntries(_ context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := len(s.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

func sortByLeaf(cs []Commitment) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].LeafIndex < cs[j].LeafIndex })
}
