package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veil/internal/audittrail"
	"veil/internal/identity"
	identityservice "veil/internal/identity/service"
	identitystore "veil/internal/identity/store"
	"veil/internal/identity/token"
	"veil/internal/jwttoken"
	"veil/internal/reveal"
	"veil/internal/reveal/keystore"
	revealstore "veil/internal/reveal/store"
	id "veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
	"veil/pkg/requestcontext"
)

// nopInteractions swallows interaction commits so the suite exercises the
// state machine without a proof engine behind it.
type nopInteractions struct{}

func (nopInteractions) LogInteraction(context.Context, id.Handle, string, []byte) error { return nil }

type RevealServiceSuite struct {
	suite.Suite

	store    *revealstore.MemoryStore
	trail    *audittrail.MemoryStore
	keys     *keystore.Keystore
	jwt      *jwttoken.Service
	registry *identityservice.Service
	svc      *Service

	handle id.Handle
	owner  id.OwnerRef
	base   time.Time
}

func TestRevealServiceSuite(t *testing.T) {
	suite.Run(t, new(RevealServiceSuite))
}

func (s *RevealServiceSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.store = revealstore.NewMemoryStore()
	s.trail = audittrail.NewMemoryStore()
	s.keys = keystore.New()
	s.jwt = jwttoken.NewService("test-signing-key", "veil-test")
	audit := audittrail.NewService(s.trail, s.trail, nil, logger)
	// The registry and the state machine share one consumer, as in
	// production: a JTI consumed at purge is dead for handle resolution.
	consumer := token.NewMemoryConsumer()
	s.registry = identityservice.New(identitystore.NewMemoryStore(), s.jwt, consumer, audit, nil, logger)
	s.svc = New(s.store, s.registry, s.jwt, consumer, s.keys, audit, nopInteractions{}, nil, logger)

	s.base = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.owner = id.NewOwnerRef()
	ctx := requestcontext.WithTime(context.Background(), s.base)
	pub, err := s.registry.Assign(ctx, s.owner, id.TierVoid)
	s.Require().NoError(err)
	s.handle = pub.Handle
}

// actorCtx builds a request context for an authenticated actor at a given time.
func (s *RevealServiceSuite) actorCtx(at time.Time, actor string, roles ...string) context.Context {
	ctx := requestcontext.WithTime(context.Background(), at)
	ctx = requestcontext.WithActorRef(ctx, actor)
	return requestcontext.WithActorRoles(ctx, roles)
}

func (s *RevealServiceSuite) open() reveal.Request {
	ctx := s.actorCtx(s.base, "actor-legal-1", jwttoken.RoleLegalAuthority)
	r, err := s.svc.Open(ctx, s.handle, reveal.TriggerLegal, "court order 44-B")
	s.Require().NoError(err)
	return r
}

// toEvidenceReview opens a request and advances it into evidence review.
func (s *RevealServiceSuite) toEvidenceReview() reveal.Request {
	r := s.open()
	ctx := s.actorCtx(s.base.Add(time.Minute), "actor-legal-1", jwttoken.RoleLegalAuthority)
	res, err := s.svc.Advance(ctx, r.ID, false)
	s.Require().NoError(err)
	s.Require().Equal(reveal.StageEvidenceReview, res.Request.Stage)
	return res.Request
}

// countersigned takes a request through evidence review and countersignature.
func (s *RevealServiceSuite) countersigned() reveal.Request {
	r := s.toEvidenceReview()
	ctx := s.actorCtx(s.base.Add(2*time.Minute), "actor-reviewer-1", jwttoken.RoleReviewer)
	res, err := s.svc.Advance(ctx, r.ID, true)
	s.Require().NoError(err)
	return res.Request
}

// dwellElapsed is a moment safely past the void tier's mandatory review window
// as measured from evidence-review entry.
func (s *RevealServiceSuite) dwellElapsed() time.Time {
	return s.base.Add(time.Minute).Add(id.TierVoid.Config().ReviewDwell)
}

// toFullDisclosure runs the complete happy path and returns the result.
func (s *RevealServiceSuite) toFullDisclosure() AdvanceResult {
	r := s.countersigned()
	ctx := s.actorCtx(s.dwellElapsed(), "actor-legal-1", jwttoken.RoleLegalAuthority)
	res, err := s.svc.Advance(ctx, r.ID, false)
	s.Require().NoError(err)
	s.Require().Equal(reveal.StageFullDisclosure, res.Request.Stage)
	return res
}

func (s *RevealServiceSuite) TestOpenEntersPartialDisclosure() {
	r := s.open()
	s.Equal(reveal.StagePartialDisclosure, r.Stage)
	s.Equal(id.TierVoid, r.Tier)
	s.Equal("actor-legal-1", r.RequesterRef)

	// The registry reflects the partial reveal.
	pub, err := s.registry.GetPublic(context.Background(), s.handle)
	s.Require().NoError(err)
	s.Equal(identity.StatePartiallyRevealed, pub.RevealState)

	// The artifact decrypts for the requester and carries no owner data.
	ctx := s.actorCtx(s.base.Add(time.Minute), "actor-legal-1", jwttoken.RoleLegalAuthority)
	plaintext, err := s.svc.Artifact(ctx, r.ID)
	s.Require().NoError(err)
	var artifact map[string]any
	s.Require().NoError(json.Unmarshal(plaintext, &artifact))
	s.Equal(s.handle.String(), artifact["handle"])
	s.Equal("void", artifact["tier"])
	s.NotContains(string(plaintext), s.owner.String())
}

func (s *RevealServiceSuite) TestOpenRequiresMatchingRole() {
	// A medical responder cannot raise a legal trigger.
	ctx := s.actorCtx(s.base, "actor-medic-1", jwttoken.RoleMedicalResponder)
	_, err := s.svc.Open(ctx, s.handle, reveal.TriggerLegal, "court order")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeUnauthorizedTrigger))

	entries, err := s.trail.ListEntriesBySubject(context.Background(), s.handle.String())
	s.Require().NoError(err)
	var denied bool
	for _, e := range entries {
		if e.Action == audittrail.ActionRevealDenied && e.Severity == audittrail.SeverityCritical {
			denied = true
		}
	}
	s.True(denied, "denied trigger must leave a critical audit entry")
}

func (s *RevealServiceSuite) TestOpenRejectsSecondActiveRequest() {
	s.open()
	ctx := s.actorCtx(s.base.Add(time.Minute), "actor-legal-2", jwttoken.RoleLegalAuthority)
	_, err := s.svc.Open(ctx, s.handle, reveal.TriggerLegal, "another order")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeConcurrentReveal))
}

func (s *RevealServiceSuite) TestOpenValidatesInput() {
	ctx := s.actorCtx(s.base, "actor-legal-1", jwttoken.RoleLegalAuthority)

	_, err := s.svc.Open(ctx, "bad handle!", reveal.TriggerLegal, "order")
	s.True(dErrors.Is(err, dErrors.CodeInvalidInput))

	_, err = s.svc.Open(ctx, s.handle, reveal.TriggerType("gossip"), "order")
	s.True(dErrors.Is(err, dErrors.CodeInvalidInput))

	_, err = s.svc.Open(ctx, s.handle, reveal.TriggerLegal, "")
	s.True(dErrors.Is(err, dErrors.CodeInvalidInput))
}

func (s *RevealServiceSuite) TestCountersignRequiresReviewerRole() {
	r := s.toEvidenceReview()
	ctx := s.actorCtx(s.base.Add(2*time.Minute), "actor-other", jwttoken.RoleLegalAuthority)
	_, err := s.svc.Advance(ctx, r.ID, true)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeAccessDenied))
}

func (s *RevealServiceSuite) TestCountersignRejectsRequester() {
	r := s.toEvidenceReview()
	ctx := s.actorCtx(s.base.Add(2*time.Minute), "actor-legal-1", jwttoken.RoleReviewer)
	_, err := s.svc.Advance(ctx, r.ID, true)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeAccessDenied))
}

func (s *RevealServiceSuite) TestCountersignOutsideEvidenceReview() {
	r := s.open()
	ctx := s.actorCtx(s.base.Add(time.Minute), "actor-reviewer-1", jwttoken.RoleReviewer)
	_, err := s.svc.Advance(ctx, r.ID, true)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeInvalidTransition))
}

func (s *RevealServiceSuite) TestCountersignIsIdempotent() {
	r := s.countersigned()
	s.Equal("actor-reviewer-1", r.CountersignedBy)
	s.False(r.CountersignedAt.IsZero())

	ctx := s.actorCtx(s.base.Add(3*time.Minute), "actor-reviewer-2", jwttoken.RoleReviewer)
	res, err := s.svc.Advance(ctx, r.ID, true)
	s.Require().NoError(err)
	s.Equal("actor-reviewer-1", res.Request.CountersignedBy, "first countersigner wins")
}

func (s *RevealServiceSuite) TestAdvanceBeforeDwellRefused() {
	r := s.countersigned()

	// One millisecond short of the window.
	at := s.dwellElapsed().Add(-time.Millisecond)
	ctx := s.actorCtx(at, "actor-legal-1", jwttoken.RoleLegalAuthority)
	_, err := s.svc.Advance(ctx, r.ID, false)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeInsufficientReviewTime))

	// Exactly at the boundary the window is met.
	ctx = s.actorCtx(s.dwellElapsed(), "actor-legal-1", jwttoken.RoleLegalAuthority)
	res, err := s.svc.Advance(ctx, r.ID, false)
	s.Require().NoError(err)
	s.Equal(reveal.StageFullDisclosure, res.Request.Stage)
}

func (s *RevealServiceSuite) TestAdvanceWithoutCountersignatureRefused() {
	r := s.toEvidenceReview()
	ctx := s.actorCtx(s.dwellElapsed(), "actor-legal-1", jwttoken.RoleLegalAuthority)
	_, err := s.svc.Advance(ctx, r.ID, false)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeMissingCountersignature))
}

func (s *RevealServiceSuite) TestFullDisclosureMintsWorkingToken() {
	res := s.toFullDisclosure()
	s.Require().NotEmpty(res.DisclosureToken)

	// The one-time token resolves the handle to its owner, exactly once.
	ctx := context.Background()
	resolved, err := s.registry.ResolveHandle(ctx, s.handle, res.DisclosureToken)
	s.Require().NoError(err)
	s.Equal(s.owner, resolved)

	_, err = s.registry.ResolveHandle(ctx, s.handle, res.DisclosureToken)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeAccessDenied))

	pub, err := s.registry.GetPublic(ctx, s.handle)
	s.Require().NoError(err)
	s.Equal(identity.StateFullyRevealed, pub.RevealState)
}

func (s *RevealServiceSuite) TestAdvancePastFullDisclosureRefused() {
	res := s.toFullDisclosure()
	ctx := s.actorCtx(s.dwellElapsed().Add(time.Hour), "actor-legal-1", jwttoken.RoleLegalAuthority)
	_, err := s.svc.Advance(ctx, res.Request.ID, false)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeInvalidTransition))
}

func (s *RevealServiceSuite) TestAbortDiscardsArtifactKey() {
	r := s.toEvidenceReview()
	ctx := s.actorCtx(s.base.Add(2*time.Minute), "actor-legal-1", jwttoken.RoleLegalAuthority)

	aborted, err := s.svc.Abort(ctx, r.ID, "trigger withdrawn")
	s.Require().NoError(err)
	s.Equal(reveal.StageAborted, aborted.Stage)

	// The ciphertext survives but its key is gone.
	_, err = s.svc.Artifact(ctx, r.ID)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeNotFound))

	// Replay is a no-op.
	again, err := s.svc.Abort(ctx, r.ID, "trigger withdrawn")
	s.Require().NoError(err)
	s.Equal(reveal.StageAborted, again.Stage)
}

func (s *RevealServiceSuite) TestAbortAfterFullDisclosureRefused() {
	res := s.toFullDisclosure()
	ctx := s.actorCtx(s.dwellElapsed().Add(time.Hour), "actor-legal-1", jwttoken.RoleLegalAuthority)
	_, err := s.svc.Abort(ctx, res.Request.ID, "too late")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeInvalidTransition))
}

func (s *RevealServiceSuite) TestAcknowledgePurges() {
	res := s.toFullDisclosure()
	ctx := s.actorCtx(s.dwellElapsed().Add(time.Hour), "actor-legal-1", jwttoken.RoleLegalAuthority)

	purged, err := s.svc.Acknowledge(ctx, res.Request.ID)
	s.Require().NoError(err)
	s.Equal(reveal.StagePurged, purged.Stage)

	// The artifact is cryptographically unrecoverable; the request record and
	// its audit history remain readable.
	_, err = s.svc.Artifact(ctx, res.Request.ID)
	s.True(dErrors.Is(err, dErrors.CodeNotFound))

	got, err := s.svc.Get(ctx, res.Request.ID)
	s.Require().NoError(err)
	s.Equal(reveal.StagePurged, got.Stage)

	entries, err := s.trail.ListEntriesBySubject(context.Background(), res.Request.ID.String())
	s.Require().NoError(err)
	s.NotEmpty(entries)

	// Replay is a no-op.
	again, err := s.svc.Acknowledge(ctx, res.Request.ID)
	s.Require().NoError(err)
	s.Equal(reveal.StagePurged, again.Stage)
}

func (s *RevealServiceSuite) TestPurgeRevokesUnredeemedToken() {
	res := s.toFullDisclosure()
	ctx := s.actorCtx(s.dwellElapsed().Add(time.Hour), "actor-legal-1", jwttoken.RoleLegalAuthority)

	_, err := s.svc.Acknowledge(ctx, res.Request.ID)
	s.Require().NoError(err)

	// The token dies with the purge, not at its JWT expiry: a holder who
	// never redeemed it cannot resolve the handle afterwards.
	_, err = s.registry.ResolveHandle(context.Background(), s.handle, res.DisclosureToken)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeAccessDenied))
}

func (s *RevealServiceSuite) TestAcknowledgeBeforeDisclosureRefused() {
	r := s.toEvidenceReview()
	ctx := s.actorCtx(s.base.Add(2*time.Minute), "actor-legal-1", jwttoken.RoleLegalAuthority)
	_, err := s.svc.Acknowledge(ctx, r.ID)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeInvalidTransition))
}

func (s *RevealServiceSuite) TestArtifactScopedToRequester() {
	r := s.open()
	ctx := s.actorCtx(s.base.Add(time.Minute), "actor-snoop", jwttoken.RoleLegalAuthority)
	_, err := s.svc.Artifact(ctx, r.ID)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeAccessDenied))
}

func (s *RevealServiceSuite) TestSweepRetentionPurgesExpiredDisclosures() {
	res := s.toFullDisclosure()
	retention := id.TierVoid.Config().DisclosureRetention

	// Inside the window nothing happens.
	ctx := requestcontext.WithTime(context.Background(), s.dwellElapsed().Add(retention-time.Hour))
	s.Require().NoError(s.svc.SweepRetention(ctx))
	got, err := s.svc.Get(ctx, res.Request.ID)
	s.Require().NoError(err)
	s.Equal(reveal.StageFullDisclosure, got.Stage)

	// Past the window the request is purged without acknowledgment.
	ctx = requestcontext.WithTime(context.Background(), s.dwellElapsed().Add(retention+time.Hour))
	s.Require().NoError(s.svc.SweepRetention(ctx))
	got, err = s.svc.Get(ctx, res.Request.ID)
	s.Require().NoError(err)
	s.Equal(reveal.StagePurged, got.Stage)
}
