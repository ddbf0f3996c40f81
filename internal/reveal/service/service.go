package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"veil/internal/audittrail"
	"veil/internal/commitment"
	"veil/internal/identity"
	"veil/internal/jwttoken"
	"veil/internal/reveal"
	"veil/internal/reveal/keystore"
	"veil/internal/reveal/metrics"
	revealstore "veil/internal/reveal/store"
	id "veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
	"veil/pkg/platform/sentinel"
	"veil/pkg/requestcontext"
)

// Registry is the slice of the identity registry the state machine drives.
type Registry interface {
	GetPublic(ctx context.Context, handle id.Handle) (identity.Public, error)
	MarkRevealState(ctx context.Context, handle id.Handle, state identity.RevealState) error
}

// Recorder appends audit entries. Entries are durable before any transition
// is acknowledged.
type Recorder interface {
	Record(ctx context.Context, e audittrail.Entry) error
}

// InteractionLogger routes reveal justifications through the proof engine so
// they land in the commitment chain like any other sensitive interaction.
type InteractionLogger interface {
	LogInteraction(ctx context.Context, handle id.Handle, category string, payload []byte) error
}

// Tokens mints one-time disclosure tokens at full disclosure.
type Tokens interface {
	GenerateDisclosureToken(requestID id.RevealRequestID, handle id.Handle, ttl time.Duration) (string, string, error)
}

// TokenConsumer marks a disclosure token JTI as used. Purge consumes the JTI
// so an unredeemed token dies with the request instead of at JWT expiry.
type TokenConsumer interface {
	Consume(ctx context.Context, jti string, ttl time.Duration) error
}

// Service is the progressive reveal state machine.
type Service struct {
	store        revealstore.Store
	registry     Registry
	tokens       Tokens
	consumer     TokenConsumer
	keys         *keystore.Keystore
	audit        Recorder
	interactions InteractionLogger
	metrics      *metrics.Metrics
	logger       *slog.Logger
	tracer       trace.Tracer
}

func New(
	store revealstore.Store,
	registry Registry,
	tokens Tokens,
	consumer TokenConsumer,
	keys *keystore.Keystore,
	audit Recorder,
	interactions InteractionLogger,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:        store,
		registry:     registry,
		tokens:       tokens,
		consumer:     consumer,
		keys:         keys,
		audit:        audit,
		interactions: interactions,
		metrics:      m,
		logger:       logger,
		tracer:       otel.Tracer("veil/reveal"),
	}
}

// AdvanceResult is the outcome of a stage transition. DisclosureToken is set
// only on the transition into full disclosure; it is never persisted and
// never reissued.
type AdvanceResult struct {
	Request         reveal.Request
	DisclosureToken string
}

// Open creates a reveal request. The requester must hold the role matching
// the trigger type; at most one active request may exist per handle. On
// success the request has already auto-advanced to partial disclosure with
// its encrypted artifact in place.
func (s *Service) Open(ctx context.Context, handle id.Handle, trigger reveal.TriggerType, justification string) (reveal.Request, error) {
	ctx, span := s.tracer.Start(ctx, "reveal.Open",
		trace.WithAttributes(attribute.String("trigger", string(trigger))))
	defer span.End()

	if _, err := id.ParseHandle(handle.String()); err != nil {
		return reveal.Request{}, err
	}
	if _, err := reveal.ParseTriggerType(string(trigger)); err != nil {
		return reveal.Request{}, err
	}
	if justification == "" {
		return reveal.Request{}, dErrors.New(dErrors.CodeInvalidInput, "justification is required")
	}

	actor := requestcontext.ActorRef(ctx)
	if !hasRole(ctx, trigger.RequiredRole()) {
		s.deny(ctx, handle.String(), string(dErrors.CodeUnauthorizedTrigger),
			fmt.Sprintf("actor lacks role %s for trigger %s", trigger.RequiredRole(), trigger))
		return reveal.Request{}, dErrors.New(dErrors.CodeUnauthorizedTrigger,
			"requester is not authorized for this trigger type")
	}

	ident, err := s.registry.GetPublic(ctx, handle)
	if err != nil {
		return reveal.Request{}, err
	}

	now := requestcontext.Now(ctx)
	r := reveal.Request{
		ID:                id.NewRevealRequestID(),
		Handle:            handle,
		Tier:              ident.Tier,
		Trigger:           trigger,
		RequesterRef:      actor,
		Stage:             reveal.StageInitiated,
		StageEnteredAt:    now,
		JustificationHash: commitment.Hash([]byte(justification)),
		CreatedAt:         now,
	}
	if err := s.store.Create(ctx, r); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.deny(ctx, handle.String(), string(dErrors.CodeConcurrentReveal),
				"second concurrent reveal request for handle")
			return reveal.Request{}, dErrors.New(dErrors.CodeConcurrentReveal,
				"an active reveal request already exists for this handle")
		}
		span.RecordError(err)
		return reveal.Request{}, dErrors.Wrap(dErrors.CodeUnavailable, "create reveal request", err)
	}

	if err := s.recordTransition(ctx, r, "", reveal.StageInitiated, string(trigger)); err != nil {
		return reveal.Request{}, err
	}

	// The justification is itself a sensitive interaction; commit it.
	if err := s.interactions.LogInteraction(ctx, handle, "reveal_justification", []byte(justification)); err != nil {
		s.logger.ErrorContext(ctx, "log justification interaction",
			"request_id", r.ID.String(),
			"error", err,
		)
	}

	// Successful validation enters partial disclosure automatically.
	r, err = s.enterPartialDisclosure(ctx, r, ident)
	if err != nil {
		return reveal.Request{}, err
	}
	return r, nil
}

// Advance moves a request one stage forward. Countersignature is accepted
// while the request sits in evidence review; the transition into full
// disclosure additionally requires the tier's dwell time to have elapsed.
// Replaying an advance that already took effect returns the current state.
func (s *Service) Advance(ctx context.Context, requestID id.RevealRequestID, countersign bool) (AdvanceResult, error) {
	ctx, span := s.tracer.Start(ctx, "reveal.Advance")
	defer span.End()

	r, err := s.get(ctx, requestID)
	if err != nil {
		return AdvanceResult{}, err
	}
	span.SetAttributes(attribute.String("stage", string(r.Stage)))

	if countersign {
		r, err = s.countersign(ctx, r)
		if err != nil {
			return AdvanceResult{}, err
		}
		return AdvanceResult{Request: r}, nil
	}

	switch r.Stage {
	case reveal.StagePartialDisclosure:
		r, err = s.transition(ctx, r, reveal.StageEvidenceReview, "review opened")
		return AdvanceResult{Request: r}, err
	case reveal.StageEvidenceReview:
		return s.enterFullDisclosure(ctx, r)
	case reveal.StageFullDisclosure:
		return AdvanceResult{}, dErrors.New(dErrors.CodeInvalidTransition,
			"full disclosure is purged by acknowledgment or retention, not advance")
	case reveal.StageInitiated:
		// Partial disclosure is entered automatically at open; reaching this
		// means that step crashed mid-way. Finish it.
		ident, err := s.registry.GetPublic(ctx, r.Handle)
		if err != nil {
			return AdvanceResult{}, err
		}
		r, err = s.enterPartialDisclosure(ctx, r, ident)
		return AdvanceResult{Request: r}, err
	default:
		return AdvanceResult{}, dErrors.New(dErrors.CodeInvalidTransition,
			fmt.Sprintf("request is %s and cannot advance", r.Stage))
	}
}

// Abort explicitly cancels a request from a pre-disclosure stage. Aborting
// an already aborted request is a no-op; aborting at or past full disclosure
// is refused since the disclosure has been acted upon.
func (s *Service) Abort(ctx context.Context, requestID id.RevealRequestID, reason string) (reveal.Request, error) {
	r, err := s.get(ctx, requestID)
	if err != nil {
		return reveal.Request{}, err
	}
	if r.Stage == reveal.StageAborted {
		return r, nil
	}
	if !r.Stage.Abortable() {
		s.deny(ctx, r.ID.String(), string(dErrors.CodeInvalidTransition),
			fmt.Sprintf("abort attempted at %s", r.Stage))
		return reveal.Request{}, dErrors.New(dErrors.CodeInvalidTransition,
			fmt.Sprintf("cannot abort a request at %s", r.Stage))
	}

	from := r.Stage
	r, err = s.applyStage(ctx, r, reveal.StageAborted, from)
	if err != nil {
		return reveal.Request{}, err
	}
	s.discardArtifact(ctx, r)
	if err := s.recordTransition(ctx, r, from, reveal.StageAborted, reason); err != nil {
		return reveal.Request{}, err
	}
	return r, nil
}

// Acknowledge confirms receipt of a full disclosure and purges the request:
// the artifact key is discarded, making every intermediate disclosure
// artifact cryptographically unrecoverable. The audit record of the reveal
// persists permanently. Idempotent once purged.
func (s *Service) Acknowledge(ctx context.Context, requestID id.RevealRequestID) (reveal.Request, error) {
	r, err := s.get(ctx, requestID)
	if err != nil {
		return reveal.Request{}, err
	}
	if r.Stage == reveal.StagePurged {
		return r, nil
	}
	if r.Stage != reveal.StageFullDisclosure {
		return reveal.Request{}, dErrors.New(dErrors.CodeInvalidTransition,
			fmt.Sprintf("cannot acknowledge a request at %s", r.Stage))
	}
	return s.purge(ctx, r, "receipt acknowledged")
}

// Get returns the persisted state of a request. Terminal requests remain
// readable forever; only their decryption keys are gone.
func (s *Service) Get(ctx context.Context, requestID id.RevealRequestID) (reveal.Request, error) {
	return s.get(ctx, requestID)
}

// Artifact decrypts the partial-disclosure payload for the requester. After
// purge or abort the key is gone and the artifact is unrecoverable.
func (s *Service) Artifact(ctx context.Context, requestID id.RevealRequestID) ([]byte, error) {
	r, err := s.get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if requestcontext.ActorRef(ctx) != r.RequesterRef {
		s.deny(ctx, r.ID.String(), string(dErrors.CodeAccessDenied),
			"artifact requested by non-requester")
		return nil, dErrors.New(dErrors.CodeAccessDenied, "artifact is scoped to the requester")
	}
	a, err := s.store.GetArtifact(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no artifact for this request")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "load artifact", err)
	}
	plaintext, err := s.keys.Open(a.KeyID, a.Ciphertext, []byte(r.ID.String()))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "artifact key has been discarded")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "open artifact", err)
	}
	return plaintext, nil
}

// SweepRetention purges full-disclosure requests whose tier retention window
// has elapsed without acknowledgment.
func (s *Service) SweepRetention(ctx context.Context) error {
	requests, err := s.store.ListInStage(ctx, reveal.StageFullDisclosure)
	if err != nil {
		return fmt.Errorf("list disclosed requests: %w", err)
	}
	now := requestcontext.Now(ctx)
	for _, r := range requests {
		if now.Sub(r.StageEnteredAt) < r.Tier.Config().DisclosureRetention {
			continue
		}
		if _, err := s.purge(ctx, r, "retention window elapsed"); err != nil {
			s.logger.ErrorContext(ctx, "retention purge failed",
				"request_id", r.ID.String(),
				"error", err,
			)
			continue
		}
		s.metrics.IncrementRetentionPurge()
	}
	return nil
}

// RunRetentionSweep drives SweepRetention on an interval until ctx ends.
func (s *Service) RunRetentionSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepRetention(ctx); err != nil {
				s.logger.ErrorContext(ctx, "retention sweep failed", "error", err)
			}
		}
	}
}

// partialArtifact is the non-identifying operational data released at
// partial disclosure. No owner reference and no handle-to-owner mapping.
type partialArtifact struct {
	Handle      string    `json:"handle"`
	Tier        string    `json:"tier"`
	TriggerType string    `json:"trigger_type"`
	CreatedAt   time.Time `json:"identity_created_at"`
}

func (s *Service) enterPartialDisclosure(ctx context.Context, r reveal.Request, ident identity.Public) (reveal.Request, error) {
	keyID, err := s.keys.Issue()
	if err != nil {
		return reveal.Request{}, dErrors.Wrap(dErrors.CodeInternal, "issue artifact key", err)
	}
	payload, err := json.Marshal(partialArtifact{
		Handle:      r.Handle.String(),
		Tier:        string(r.Tier),
		TriggerType: string(r.Trigger),
		CreatedAt:   ident.CreatedAt,
	})
	if err != nil {
		return reveal.Request{}, dErrors.Wrap(dErrors.CodeInternal, "marshal artifact", err)
	}
	sealed, err := s.keys.Seal(keyID, payload, []byte(r.ID.String()))
	if err != nil {
		return reveal.Request{}, dErrors.Wrap(dErrors.CodeInternal, "seal artifact", err)
	}

	from := r.Stage
	r, err = s.applyStage(ctx, r, reveal.StagePartialDisclosure, from)
	if err != nil {
		s.keys.Discard(keyID)
		return reveal.Request{}, err
	}
	if err := s.store.SaveArtifact(ctx, r.ID, reveal.Artifact{KeyID: keyID, Ciphertext: sealed}); err != nil {
		return reveal.Request{}, dErrors.Wrap(dErrors.CodeUnavailable, "save artifact", err)
	}
	if err := s.registry.MarkRevealState(ctx, r.Handle, identity.StatePartiallyRevealed); err != nil {
		return reveal.Request{}, err
	}
	if err := s.recordTransition(ctx, r, from, reveal.StagePartialDisclosure, "operational data released"); err != nil {
		return reveal.Request{}, err
	}
	return r, nil
}

func (s *Service) countersign(ctx context.Context, r reveal.Request) (reveal.Request, error) {
	if r.Stage != reveal.StageEvidenceReview {
		return reveal.Request{}, dErrors.New(dErrors.CodeInvalidTransition,
			"countersignature applies only during evidence review")
	}
	actor := requestcontext.ActorRef(ctx)
	if !hasRole(ctx, jwttoken.RoleReviewer) {
		s.deny(ctx, r.ID.String(), string(dErrors.CodeAccessDenied), "countersigner lacks reviewer role")
		return reveal.Request{}, dErrors.New(dErrors.CodeAccessDenied,
			"countersignature requires the reviewer role")
	}
	if actor == "" || actor == r.RequesterRef {
		s.deny(ctx, r.ID.String(), string(dErrors.CodeAccessDenied), "requester attempted self-countersign")
		return reveal.Request{}, dErrors.New(dErrors.CodeAccessDenied,
			"countersigner must differ from the requester")
	}
	if r.CountersignedBy != "" {
		return r, nil
	}

	r.CountersignedBy = actor
	r.CountersignedAt = requestcontext.Now(ctx)
	if err := s.store.UpdateStage(ctx, r, r.Stage); err != nil {
		return reveal.Request{}, dErrors.Wrap(dErrors.CodeUnavailable, "record countersignature", err)
	}
	if err := s.audit.Record(ctx, audittrail.Entry{
		Action:  audittrail.ActionRevealTransition,
		Subject: r.ID.String(),
		Reason:  "evidence review countersigned",
	}); err != nil {
		return reveal.Request{}, dErrors.Wrap(dErrors.CodeInternal, "record countersignature entry", err)
	}
	return r, nil
}

func (s *Service) enterFullDisclosure(ctx context.Context, r reveal.Request) (AdvanceResult, error) {
	now := requestcontext.Now(ctx)
	if !r.ReviewDwellMet(now) {
		s.deny(ctx, r.ID.String(), string(dErrors.CodeInsufficientReviewTime),
			fmt.Sprintf("dwell %s of %s elapsed", now.Sub(r.StageEnteredAt), r.Tier.Config().ReviewDwell))
		return AdvanceResult{}, dErrors.New(dErrors.CodeInsufficientReviewTime,
			fmt.Sprintf("evidence review requires %s for tier %s", r.Tier.Config().ReviewDwell, r.Tier))
	}
	if r.CountersignedBy == "" {
		s.deny(ctx, r.ID.String(), string(dErrors.CodeMissingCountersignature),
			"advance attempted without countersignature")
		return AdvanceResult{}, dErrors.New(dErrors.CodeMissingCountersignature,
			"a second reviewer must countersign before full disclosure")
	}

	reviewDuration := now.Sub(r.StageEnteredAt)

	// Mint before the stage write so the JTI lands with the transition. The
	// token string itself is returned exactly once and never persisted.
	token, jti, err := s.tokens.GenerateDisclosureToken(r.ID, r.Handle, r.Tier.Config().DisclosureRetention)
	if err != nil {
		return AdvanceResult{}, dErrors.Wrap(dErrors.CodeInternal, "mint disclosure token", err)
	}
	r.DisclosureJTI = jti

	from := r.Stage
	r, err = s.applyStage(ctx, r, reveal.StageFullDisclosure, from)
	if err != nil {
		return AdvanceResult{}, err
	}
	if r.DisclosureJTI != jti {
		// A concurrent replay won the transition; its caller holds the one
		// live token and ours is discarded unissued.
		return AdvanceResult{Request: r}, nil
	}

	if err := s.registry.MarkRevealState(ctx, r.Handle, identity.StateFullyRevealed); err != nil {
		return AdvanceResult{}, err
	}
	if err := s.recordTransition(ctx, r, from, reveal.StageFullDisclosure, "one-time disclosure token issued"); err != nil {
		return AdvanceResult{}, err
	}
	s.metrics.ObserveReviewDuration(reviewDuration)
	return AdvanceResult{Request: r, DisclosureToken: token}, nil
}

func (s *Service) purge(ctx context.Context, r reveal.Request, reason string) (reveal.Request, error) {
	from := r.Stage
	r, err := s.applyStage(ctx, r, reveal.StagePurged, from)
	if err != nil {
		return reveal.Request{}, err
	}
	s.discardArtifact(ctx, r)
	s.revokeDisclosureToken(ctx, r)
	if err := s.recordTransition(ctx, r, from, reveal.StagePurged, reason); err != nil {
		return reveal.Request{}, err
	}
	return r, nil
}

// transition performs a plain forward step with audit.
func (s *Service) transition(ctx context.Context, r reveal.Request, to reveal.Stage, reason string) (reveal.Request, error) {
	from := r.Stage
	r, err := s.applyStage(ctx, r, to, from)
	if err != nil {
		return reveal.Request{}, err
	}
	if err := s.recordTransition(ctx, r, from, to, reason); err != nil {
		return reveal.Request{}, err
	}
	return r, nil
}

// applyStage persists the stage move. A lost compare-and-swap is re-read:
// if another replay of the same transition won, the call succeeds with the
// current state (idempotent replays); anything else is an invalid
// transition.
func (s *Service) applyStage(ctx context.Context, r reveal.Request, to, from reveal.Stage) (reveal.Request, error) {
	if !from.AllowsTransitionTo(to) {
		return reveal.Request{}, dErrors.New(dErrors.CodeInvalidTransition,
			fmt.Sprintf("cannot transition %s -> %s", from, to))
	}
	r.Stage = to
	r.StageEnteredAt = requestcontext.Now(ctx)
	err := s.store.UpdateStage(ctx, r, from)
	if err == nil {
		return r, nil
	}
	if errors.Is(err, sentinel.ErrConflict) {
		current, getErr := s.get(ctx, r.ID)
		if getErr != nil {
			return reveal.Request{}, getErr
		}
		if current.Stage == to {
			return current, nil
		}
		return reveal.Request{}, dErrors.New(dErrors.CodeInvalidTransition,
			fmt.Sprintf("request moved concurrently, now %s", current.Stage))
	}
	return reveal.Request{}, dErrors.Wrap(dErrors.CodeUnavailable, "persist stage transition", err)
}

// revokeDisclosureToken consumes the request's disclosure JTI so the token
// cannot resolve the handle after purge. An already consumed JTI means the
// token was redeemed; nothing left to revoke.
func (s *Service) revokeDisclosureToken(ctx context.Context, r reveal.Request) {
	if r.DisclosureJTI == "" {
		return
	}
	err := s.consumer.Consume(ctx, r.DisclosureJTI, r.Tier.Config().DisclosureRetention)
	if err != nil && !errors.Is(err, sentinel.ErrAlreadyUsed) {
		s.logger.ErrorContext(ctx, "revoke disclosure token",
			"request_id", r.ID.String(),
			"error", err,
		)
	}
}

func (s *Service) discardArtifact(ctx context.Context, r reveal.Request) {
	a, err := s.store.GetArtifact(ctx, r.ID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.ErrorContext(ctx, "load artifact for key discard",
				"request_id", r.ID.String(),
				"error", err,
			)
		}
		return
	}
	s.keys.Discard(a.KeyID)
}

func (s *Service) recordTransition(ctx context.Context, r reveal.Request, from, to reveal.Stage, reason string) error {
	if err := s.audit.Record(ctx, audittrail.Entry{
		Action:    audittrail.ActionRevealTransition,
		Subject:   r.ID.String(),
		FromState: string(from),
		ToState:   string(to),
		Reason:    reason,
	}); err != nil {
		// Durable-before-acknowledgment: a transition whose audit entry
		// cannot be written is not acknowledged.
		return dErrors.Wrap(dErrors.CodeUnavailable, "record transition", err)
	}
	s.metrics.IncrementTransition(string(from), string(to))
	return nil
}

// deny writes the critical audit entry behind every refused reveal
// operation. Authorization failures are final and feed compliance alerting.
func (s *Service) deny(ctx context.Context, subject, reason, detail string) {
	s.metrics.IncrementDenial(reason)
	if err := s.audit.Record(ctx, audittrail.Entry{
		Action:   audittrail.ActionRevealDenied,
		Subject:  subject,
		Reason:   reason + ": " + detail,
		Severity: audittrail.SeverityCritical,
	}); err != nil {
		s.logger.ErrorContext(ctx, "record reveal denial", "subject", subject, "error", err)
	}
}

func (s *Service) get(ctx context.Context, requestID id.RevealRequestID) (reveal.Request, error) {
	r, err := s.store.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return reveal.Request{}, dErrors.New(dErrors.CodeNotFound, "unknown reveal request")
		}
		return reveal.Request{}, dErrors.Wrap(dErrors.CodeInternal, "lookup reveal request", err)
	}
	return r, nil
}

func hasRole(ctx context.Context, role string) bool {
	for _, r := range requestcontext.ActorRoles(ctx) {
		if r == role {
			return true
		}
	}
	return false
}
