//go:build integration

package audittrail_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veil/internal/audittrail"
	"veil/internal/commitment"
	id "veil/pkg/domain"
	"veil/pkg/platform/sentinel"
	"veil/pkg/platform/tx"
	"veil/pkg/testutil/containers"
)

type PostgresTrailSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *audittrail.PostgresStore
}

func TestPostgresTrailSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresTrailSuite))
}

func (s *PostgresTrailSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T(), "../../migrations")
	s.store = audittrail.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresTrailSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateAll(context.Background()))
}

// appendN appends n unsealed commitments and returns their IDs in append order.
func (s *PostgresTrailSuite) appendN(ctx context.Context, n int) []id.CommitmentID {
	order := make([]id.CommitmentID, n)
	for i := range order {
		c, err := s.store.AppendCommitment(ctx, audittrail.Commitment{
			ID:          id.NewCommitmentID(),
			Handle:      id.Handle("onyx-7f3c9a"),
			Category:    "payment",
			PayloadHash: commitment.Hash([]byte(fmt.Sprintf("payload-%d", i))),
		})
		s.Require().NoError(err)
		s.Equal(audittrail.LeafUnassigned, c.LeafIndex)
		order[i] = c.ID
	}
	return order
}

func (s *PostgresTrailSuite) finalize(ctx context.Context, order []id.CommitmentID) audittrail.Checkpoint {
	cp, err := s.store.FinalizeCheckpoint(ctx, audittrail.Checkpoint{
		ID:       id.NewCheckpointID(),
		RootHash: commitment.Hash([]byte("root")),
	}, order)
	s.Require().NoError(err)
	return cp
}

func (s *PostgresTrailSuite) TestFrontierStaysContiguous() {
	ctx := context.Background()

	first := s.finalize(ctx, s.appendN(ctx, 3))
	s.Equal(int64(0), first.FirstLeaf)
	s.Equal(int64(2), first.LastLeaf)

	second := s.finalize(ctx, s.appendN(ctx, 2))
	s.Equal(int64(3), second.FirstLeaf)
	s.Equal(int64(4), second.LastLeaf)

	sealed, err := s.store.ListCommitmentsRange(ctx, 0, 4)
	s.Require().NoError(err)
	s.Require().Len(sealed, 5)
	for i, c := range sealed {
		s.Equal(int64(i), c.LeafIndex)
	}

	latest, ok, err := s.store.LatestCheckpoint(ctx)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(second.ID, latest.ID)
}

func (s *PostgresTrailSuite) TestDoubleSealRejected() {
	ctx := context.Background()
	order := s.appendN(ctx, 2)
	sealed := s.finalize(ctx, order)

	_, err := s.store.FinalizeCheckpoint(ctx, audittrail.Checkpoint{
		ID:       id.NewCheckpointID(),
		RootHash: commitment.Hash([]byte("root")),
	}, order)
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	// The failed finalize must not move the frontier.
	latest, ok, err := s.store.LatestCheckpoint(ctx)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(sealed.ID, latest.ID)
	s.Equal(sealed.LastLeaf, latest.LastLeaf)
}

func (s *PostgresTrailSuite) TestFailedFinalizeSealsNothing() {
	ctx := context.Background()
	sealedOrder := s.appendN(ctx, 1)
	s.finalize(ctx, sealedOrder)

	// A batch mixing a fresh commitment with an already sealed one must
	// fail atomically: the fresh leaf stays pending.
	fresh := s.appendN(ctx, 1)
	_, err := s.store.FinalizeCheckpoint(ctx, audittrail.Checkpoint{
		ID:       id.NewCheckpointID(),
		RootHash: commitment.Hash([]byte("root")),
	}, append(fresh, sealedOrder...))
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	pending, err := s.store.ListPendingCommitments(ctx)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(fresh[0], pending[0].ID)
}

func (s *PostgresTrailSuite) TestConcurrentFinalizeNeverOverlaps() {
	ctx := context.Background()
	batches := [][]id.CommitmentID{
		s.appendN(ctx, 2),
		s.appendN(ctx, 3),
	}

	var wg sync.WaitGroup
	errs := make([]error, len(batches))
	for i, order := range batches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.store.FinalizeCheckpoint(ctx, audittrail.Checkpoint{
				ID:       id.NewCheckpointID(),
				RootHash: commitment.Hash([]byte("root")),
			}, order)
		}()
	}
	wg.Wait()

	// A loser surfaces as a clean conflict, never as an overlapping range.
	for _, err := range errs {
		if err != nil {
			s.Require().ErrorIs(err, sentinel.ErrConflict)
		}
	}
	cps, err := s.store.ListCheckpoints(ctx, time.Time{}, time.Time{})
	s.Require().NoError(err)
	var next int64
	for _, cp := range cps {
		s.Equal(next, cp.FirstLeaf)
		next = cp.LastLeaf + 1
	}
}

func (s *PostgresTrailSuite) TestAppendDuplicateCommitmentConflict() {
	ctx := context.Background()
	c := audittrail.Commitment{
		ID:          id.NewCommitmentID(),
		Handle:      id.Handle("onyx-7f3c9a"),
		Category:    "payment",
		PayloadHash: commitment.Hash([]byte("payload")),
	}
	_, err := s.store.AppendCommitment(ctx, c)
	s.Require().NoError(err)
	_, err = s.store.AppendCommitment(ctx, c)
	s.Require().ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresTrailSuite) TestRunnerRollsBackAppend() {
	ctx := context.Background()
	runner := tx.SQLRunner{DB: s.postgres.DB}
	cid := id.NewCommitmentID()

	err := runner.RunTx(ctx, func(ctx context.Context) error {
		_, err := s.store.AppendCommitment(ctx, audittrail.Commitment{
			ID:          cid,
			Handle:      id.Handle("onyx-7f3c9a"),
			Category:    "payment",
			PayloadHash: commitment.Hash([]byte("payload")),
		})
		s.Require().NoError(err)
		return errors.New("record save failed")
	})
	s.Require().Error(err)

	_, err = s.store.GetCommitment(ctx, cid)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	// The same composition commits when the closure succeeds.
	err = runner.RunTx(ctx, func(ctx context.Context) error {
		_, err := s.store.AppendCommitment(ctx, audittrail.Commitment{
			ID:          cid,
			Handle:      id.Handle("onyx-7f3c9a"),
			Category:    "payment",
			PayloadHash: commitment.Hash([]byte("payload")),
		})
		return err
	})
	s.Require().NoError(err)

	got, err := s.store.GetCommitment(ctx, cid)
	s.Require().NoError(err)
	s.Equal(cid, got.ID)
}

func (s *PostgresTrailSuite) TestEntriesBySubjectRoundTrip() {
	ctx := context.Background()
	entry := audittrail.Entry{
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Action:    audittrail.ActionCheckpointSealed,
		Subject:   "checkpoint-1",
		ActorRef:  "system",
		Reason:    "leaves 0-4",
		Severity:  audittrail.SeverityInfo,
	}
	s.Require().NoError(s.store.AppendEntry(ctx, entry))

	got, err := s.store.ListEntriesBySubject(ctx, "checkpoint-1")
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(entry.Action, got[0].Action)
	s.Equal(entry.Reason, got[0].Reason)
	s.Equal(entry.Severity, got[0].Severity)
}
