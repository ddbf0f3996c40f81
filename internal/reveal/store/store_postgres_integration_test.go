//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"veil/internal/commitment"
	"veil/internal/reveal"
	"veil/internal/reveal/store"
	id "veil/pkg/domain"
	"veil/pkg/platform/sentinel"
	"veil/pkg/testutil/containers"
)

type PostgresRevealSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	pool     *pgxpool.Pool
	store    *store.PostgresStore
}

func TestPostgresRevealSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresRevealSuite))
}

func (s *PostgresRevealSuite) SetupSuite() {
	ctx := context.Background()
	s.postgres = containers.NewPostgresContainer(s.T(), "../../../migrations")
	pool, err := pgxpool.New(ctx, s.postgres.DSN)
	s.Require().NoError(err)
	s.pool = pool
	s.store = store.NewPostgresStore(pool)
}

func (s *PostgresRevealSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresRevealSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateAll(context.Background()))
}

func sampleRequest(handle string) reveal.Request {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return reveal.Request{
		ID:                id.NewRevealRequestID(),
		Handle:            id.Handle(handle),
		Tier:              id.TierOnyx,
		Trigger:           reveal.TriggerLegal,
		RequesterRef:      "actor-legal-1",
		Stage:             reveal.StageInitiated,
		StageEnteredAt:    now,
		JustificationHash: commitment.Hash([]byte("court order 44-B")),
		CreatedAt:         now,
	}
}

func (s *PostgresRevealSuite) TestActiveHandleExclusivity() {
	ctx := context.Background()
	first := sampleRequest("onyx-7f3c9a")
	s.Require().NoError(s.store.Create(ctx, first))

	// The partial unique index rejects a second live request for the handle.
	second := sampleRequest("onyx-7f3c9a")
	err := s.store.Create(ctx, second)
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	// A terminal row stops counting against the handle.
	aborted := first
	aborted.Stage = reveal.StageAborted
	s.Require().NoError(s.store.UpdateStage(ctx, aborted, reveal.StageInitiated))
	s.Require().NoError(s.store.Create(ctx, second))

	active, err := s.store.GetActiveByHandle(ctx, first.Handle)
	s.Require().NoError(err)
	s.Equal(second.ID, active.ID)
}

func (s *PostgresRevealSuite) TestStageUpdateIsCompareAndSwap() {
	ctx := context.Background()
	r := sampleRequest("onyx-7f3c9a")
	s.Require().NoError(s.store.Create(ctx, r))

	advanced := r
	advanced.Stage = reveal.StagePartialDisclosure
	advanced.StageEnteredAt = r.StageEnteredAt.Add(time.Minute)
	s.Require().NoError(s.store.UpdateStage(ctx, advanced, reveal.StageInitiated))

	// A writer holding the stale stage loses cleanly.
	stale := r
	stale.Stage = reveal.StageAborted
	err := s.store.UpdateStage(ctx, stale, reveal.StageInitiated)
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	got, err := s.store.Get(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(reveal.StagePartialDisclosure, got.Stage)
	s.Equal(advanced.StageEnteredAt, got.StageEnteredAt.UTC())
}

func (s *PostgresRevealSuite) TestCountersignaturePersists() {
	ctx := context.Background()
	r := sampleRequest("onyx-7f3c9a")
	r.Stage = reveal.StageEvidenceReview
	s.Require().NoError(s.store.Create(ctx, r))

	signed := r
	signed.CountersignedBy = "actor-reviewer-1"
	signed.CountersignedAt = r.StageEnteredAt.Add(time.Hour)
	s.Require().NoError(s.store.UpdateStage(ctx, signed, reveal.StageEvidenceReview))

	got, err := s.store.Get(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal("actor-reviewer-1", got.CountersignedBy)
	s.Equal(signed.CountersignedAt, got.CountersignedAt.UTC())
}

func (s *PostgresRevealSuite) TestDisclosureJTIPersists() {
	ctx := context.Background()
	r := sampleRequest("onyx-7f3c9a")
	r.Stage = reveal.StageEvidenceReview
	s.Require().NoError(s.store.Create(ctx, r))

	disclosed := r
	disclosed.Stage = reveal.StageFullDisclosure
	disclosed.StageEnteredAt = r.StageEnteredAt.Add(25 * time.Hour)
	disclosed.DisclosureJTI = "jti-0001"
	s.Require().NoError(s.store.UpdateStage(ctx, disclosed, reveal.StageEvidenceReview))

	got, err := s.store.Get(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal("jti-0001", got.DisclosureJTI)
}

func (s *PostgresRevealSuite) TestArtifactRoundTrip() {
	ctx := context.Background()
	r := sampleRequest("onyx-7f3c9a")
	s.Require().NoError(s.store.Create(ctx, r))

	_, err := s.store.GetArtifact(ctx, r.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	artifact := reveal.Artifact{KeyID: "key-1", Ciphertext: []byte("sealed")}
	s.Require().NoError(s.store.SaveArtifact(ctx, r.ID, artifact))

	got, err := s.store.GetArtifact(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(artifact, got)

	err = s.store.SaveArtifact(ctx, id.NewRevealRequestID(), artifact)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresRevealSuite) TestListInStageOrdersByEntry() {
	ctx := context.Background()
	older := sampleRequest("onyx-7f3c9a")
	older.StageEnteredAt = older.StageEnteredAt.Add(-time.Hour)
	newer := sampleRequest("void-2a9f01c3")
	s.Require().NoError(s.store.Create(ctx, newer))
	s.Require().NoError(s.store.Create(ctx, older))

	got, err := s.store.ListInStage(ctx, reveal.StageInitiated)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(older.ID, got[0].ID)
	s.Equal(newer.ID, got[1].ID)
}
