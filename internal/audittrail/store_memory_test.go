package audittrail

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veil/internal/commitment"
	id "veil/pkg/domain"
	"veil/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite

	ctx   context.Context
	store *MemoryStore
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewMemoryStore()
}

func (s *MemoryStoreSuite) appendN(n int) []Commitment {
	out := make([]Commitment, n)
	for i := range out {
		c, err := s.store.AppendCommitment(s.ctx, Commitment{
			ID:          id.NewCommitmentID(),
			Handle:      "onyx-7f3c9a",
			Category:    "payment",
			PayloadHash: commitment.Hash([]byte{byte(i)}),
		})
		s.Require().NoError(err)
		out[i] = c
	}
	return out
}

func orderOf(cs []Commitment) []id.CommitmentID {
	order := make([]id.CommitmentID, len(cs))
	for i, c := range cs {
		order[i] = c.ID
	}
	return order
}

func (s *MemoryStoreSuite) TestAppendAssignsUnsealedLeaf() {
	c := s.appendN(1)[0]
	s.Equal(LeafUnassigned, c.LeafIndex)
	s.False(c.Sealed())
	s.False(c.CreatedAt.IsZero())
}

func (s *MemoryStoreSuite) TestAppendRejectsDuplicateID() {
	c := s.appendN(1)[0]
	_, err := s.store.AppendCommitment(s.ctx, c)
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *MemoryStoreSuite) TestFinalizeAssignsContiguousFrontier() {
	first := s.appendN(3)
	cp1, err := s.store.FinalizeCheckpoint(s.ctx, Checkpoint{
		ID:       id.NewCheckpointID(),
		RootHash: commitment.Hash([]byte("root-1")),
	}, orderOf(first))
	s.Require().NoError(err)
	s.Equal(int64(0), cp1.FirstLeaf)
	s.Equal(int64(2), cp1.LastLeaf)

	second := s.appendN(2)
	cp2, err := s.store.FinalizeCheckpoint(s.ctx, Checkpoint{
		ID:       id.NewCheckpointID(),
		RootHash: commitment.Hash([]byte("root-2")),
	}, orderOf(second))
	s.Require().NoError(err)
	s.Equal(int64(3), cp2.FirstLeaf)
	s.Equal(int64(4), cp2.LastLeaf)

	for offset, c := range second {
		sealed, err := s.store.GetCommitment(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(cp2.FirstLeaf+int64(offset), sealed.LeafIndex)
		s.True(sealed.Sealed())
	}
}

func (s *MemoryStoreSuite) TestFinalizeRejectsEmptyOrder() {
	_, err := s.store.FinalizeCheckpoint(s.ctx, Checkpoint{ID: id.NewCheckpointID()}, nil)
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *MemoryStoreSuite) TestFinalizeRejectsSealedCommitment() {
	cs := s.appendN(2)
	_, err := s.store.FinalizeCheckpoint(s.ctx, Checkpoint{
		ID:       id.NewCheckpointID(),
		RootHash: commitment.Hash([]byte("root")),
	}, orderOf(cs))
	s.Require().NoError(err)

	_, err = s.store.FinalizeCheckpoint(s.ctx, Checkpoint{
		ID:       id.NewCheckpointID(),
		RootHash: commitment.Hash([]byte("root-again")),
	}, orderOf(cs[:1]))
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *MemoryStoreSuite) TestFinalizeRejectsUnknownCommitment() {
	_, err := s.store.FinalizeCheckpoint(s.ctx, Checkpoint{
		ID:       id.NewCheckpointID(),
		RootHash: commitment.Hash([]byte("root")),
	}, []id.CommitmentID{id.NewCommitmentID()})
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestFailedFinalizeLeavesNothingSealed() {
	cs := s.appendN(2)
	order := append(orderOf(cs), id.NewCommitmentID())
	_, err := s.store.FinalizeCheckpoint(s.ctx, Checkpoint{
		ID:       id.NewCheckpointID(),
		RootHash: commitment.Hash([]byte("root")),
	}, order)
	s.Require().Error(err)

	pending, err := s.store.ListPendingCommitments(s.ctx)
	s.Require().NoError(err)
	s.Len(pending, 2)
}

func (s *MemoryStoreSuite) TestListPendingExcludesSealed() {
	cs := s.appendN(3)
	_, err := s.store.FinalizeCheckpoint(s.ctx, Checkpoint{
		ID:       id.NewCheckpointID(),
		RootHash: commitment.Hash([]byte("root")),
	}, orderOf(cs[:2]))
	s.Require().NoError(err)

	pending, err := s.store.ListPendingCommitments(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(cs[2].ID, pending[0].ID)
}

func (s *MemoryStoreSuite) TestListCommitmentsRange() {
	cs := s.appendN(5)
	_, err := s.store.FinalizeCheckpoint(s.ctx, Checkpoint{
		ID:       id.NewCheckpointID(),
		RootHash: commitment.Hash([]byte("root")),
	}, orderOf(cs))
	s.Require().NoError(err)

	got, err := s.store.ListCommitmentsRange(s.ctx, 1, 3)
	s.Require().NoError(err)
	s.Require().Len(got, 3)
	for i, c := range got {
		s.Equal(int64(1+i), c.LeafIndex)
	}
}

func (s *MemoryStoreSuite) TestListCheckpointsWindow() {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		cs := s.appendN(1)
		_, err := s.store.FinalizeCheckpoint(s.ctx, Checkpoint{
			ID:          id.NewCheckpointID(),
			RootHash:    commitment.Hash([]byte{byte(i)}),
			FinalizedAt: base.Add(time.Duration(i) * time.Hour),
		}, orderOf(cs))
		s.Require().NoError(err)
	}

	got, err := s.store.ListCheckpoints(s.ctx, base.Add(30*time.Minute), base.Add(90*time.Minute))
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(int64(1), got[0].FirstLeaf)

	// Zero upper bound means unbounded.
	got, err = s.store.ListCheckpoints(s.ctx, base.Add(30*time.Minute), time.Time{})
	s.Require().NoError(err)
	s.Len(got, 2)
}

func (s *MemoryStoreSuite) TestLatestCheckpoint() {
	_, ok, err := s.store.LatestCheckpoint(s.ctx)
	s.Require().NoError(err)
	s.False(ok)

	cs := s.appendN(1)
	cp, err := s.store.FinalizeCheckpoint(s.ctx, Checkpoint{
		ID:       id.NewCheckpointID(),
		RootHash: commitment.Hash([]byte("root")),
	}, orderOf(cs))
	s.Require().NoError(err)

	latest, ok, err := s.store.LatestCheckpoint(s.ctx)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(cp.ID, latest.ID)
}
