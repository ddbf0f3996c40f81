package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"veil/internal/audittrail"
	"veil/internal/identity"
	identitystore "veil/internal/identity/store"
	"veil/internal/identity/token"
	"veil/internal/jwttoken"
	id "veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
	"veil/pkg/platform/sentinel"
	"veil/pkg/requestcontext"
)

// handleAttempts bounds collision retries before escalating. Suffix entropy
// makes hitting this in practice a sign of namespace misconfiguration, not
// bad luck.
const handleAttempts = 5

// Recorder is the slice of the audit trail this service writes to.
type Recorder interface {
	Record(ctx context.Context, e audittrail.Entry) error
}

// InteractionLogger submits an interaction record on behalf of the registry.
// Resolve calls are themselves sensitive interactions, so each one flows
// through the proof engine like any other.
type InteractionLogger interface {
	LogInteraction(ctx context.Context, handle id.Handle, category string, payload []byte) error
}

// Tokens is the slice of the JWT service used for disclosure validation.
type Tokens interface {
	ValidateDisclosureToken(tokenString string) (*jwttoken.DisclosureClaims, error)
}

// Service is the anonymous identity registry.
type Service struct {
	store        identitystore.Store
	tokens       Tokens
	consumer     token.Consumer
	audit        Recorder
	interactions InteractionLogger
	logger       *slog.Logger
}

func New(
	store identitystore.Store,
	tokens Tokens,
	consumer token.Consumer,
	audit Recorder,
	interactions InteractionLogger,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:        store,
		tokens:       tokens,
		consumer:     consumer,
		audit:        audit,
		interactions: interactions,
		logger:       logger,
	}
}

// Assign creates the anonymous identity for an (owner, tier) pair. Exactly
// one identity may exist per pair; handles are unique within their tier
// namespace, generated with collision-checked randomness.
func (s *Service) Assign(ctx context.Context, owner id.OwnerRef, tier id.Tier) (identity.Public, error) {
	if owner.IsNil() {
		return identity.Public{}, dErrors.New(dErrors.CodeInvalidInput, "owner reference is required")
	}
	if !tier.Valid() {
		return identity.Public{}, dErrors.New(dErrors.CodeInvalidInput, "unknown tier")
	}

	if _, err := s.store.GetByOwnerTier(ctx, owner, tier); err == nil {
		return identity.Public{}, dErrors.New(dErrors.CodeDuplicateIdentity,
			"identity already assigned for this owner and tier")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return identity.Public{}, dErrors.Wrap(dErrors.CodeInternal, "lookup identity", err)
	}

	for attempt := 0; attempt < handleAttempts; attempt++ {
		handle, err := generateHandle(tier)
		if err != nil {
			return identity.Public{}, dErrors.Wrap(dErrors.CodeInternal, "generate handle", err)
		}
		ident := identity.AnonymousIdentity{
			Handle:      handle,
			Tier:        tier,
			OwnerRef:    owner,
			RevealState: identity.StateSealed,
			CreatedAt:   requestcontext.Now(ctx),
		}
		err = s.store.Save(ctx, ident)
		if err == nil {
			if auditErr := s.audit.Record(ctx, audittrail.Entry{
				Action:  audittrail.ActionIdentityAssigned,
				Subject: handle.String(),
				ToState: string(identity.StateSealed),
				Reason:  string(tier),
			}); auditErr != nil {
				return identity.Public{}, dErrors.Wrap(dErrors.CodeInternal, "record assignment", auditErr)
			}
			return ident.Public(), nil
		}
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			s.logger.WarnContext(ctx, "handle collision, retrying",
				"tier", string(tier),
				"attempt", attempt+1,
			)
			continue
		}
		if errors.Is(err, sentinel.ErrConflict) {
			// Lost a race against a concurrent assign for the same pair.
			return identity.Public{}, dErrors.New(dErrors.CodeDuplicateIdentity,
				"identity already assigned for this owner and tier")
		}
		return identity.Public{}, dErrors.Wrap(dErrors.CodeInternal, "save identity", err)
	}

	return identity.Public{}, dErrors.New(dErrors.CodeHandleExhaustion,
		fmt.Sprintf("no unique handle after %d attempts", handleAttempts))
}

// ResolveHandle maps a handle back to its owner reference. Only a valid,
// unconsumed disclosure token scoped to this handle unlocks it; every call,
// allowed or denied, is logged as an interaction record and an audit entry.
func (s *Service) ResolveHandle(ctx context.Context, handle id.Handle, disclosureToken string) (id.OwnerRef, error) {
	deny := func(reason string) (id.OwnerRef, error) {
		s.logResolve(ctx, handle, audittrail.ActionResolveDenied, reason)
		return id.OwnerRef{}, dErrors.New(dErrors.CodeAccessDenied, reason)
	}

	claims, err := s.tokens.ValidateDisclosureToken(disclosureToken)
	if err != nil {
		return deny("disclosure token invalid or expired")
	}
	if claims.Handle != handle.String() {
		return deny("disclosure token not scoped to this handle")
	}

	ttl := handleTier(handle).Config().DisclosureRetention
	if err := s.consumer.Consume(ctx, claims.ID, ttl); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return deny("disclosure token already used")
		}
		return id.OwnerRef{}, dErrors.Wrap(dErrors.CodeUnavailable, "token consumption store", err)
	}

	ident, err := s.store.GetByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return deny("unknown handle")
		}
		return id.OwnerRef{}, dErrors.Wrap(dErrors.CodeInternal, "lookup handle", err)
	}

	s.logResolve(ctx, handle, audittrail.ActionHandleResolved, "reveal request "+claims.RequestID)
	return ident.OwnerRef, nil
}

// MarkRevealState is called only by the reveal state machine. Monotonic: an
// identity cannot regress toward sealed.
func (s *Service) MarkRevealState(ctx context.Context, handle id.Handle, state identity.RevealState) error {
	ident, err := s.store.GetByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "unknown handle")
		}
		return dErrors.Wrap(dErrors.CodeInternal, "lookup handle", err)
	}
	if !ident.RevealState.AllowsTransitionTo(state) {
		return dErrors.New(dErrors.CodeInvalidTransition,
			fmt.Sprintf("cannot move reveal state %s -> %s", ident.RevealState, state))
	}
	if ident.RevealState == state {
		return nil
	}
	if err := s.store.UpdateRevealState(ctx, handle, state); err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "update reveal state", err)
	}
	return s.audit.Record(ctx, audittrail.Entry{
		Action:    audittrail.ActionRevealStateMarked,
		Subject:   handle.String(),
		FromState: string(ident.RevealState),
		ToState:   string(state),
	})
}

// GetPublic returns the owner-stripped view of an identity.
func (s *Service) GetPublic(ctx context.Context, handle id.Handle) (identity.Public, error) {
	ident, err := s.store.GetByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return identity.Public{}, dErrors.New(dErrors.CodeNotFound, "unknown handle")
		}
		return identity.Public{}, dErrors.Wrap(dErrors.CodeInternal, "lookup handle", err)
	}
	return ident.Public(), nil
}

func (s *Service) logResolve(ctx context.Context, handle id.Handle, action, reason string) {
	severity := audittrail.SeverityInfo
	if action == audittrail.ActionResolveDenied {
		severity = audittrail.SeverityCritical
	}
	if err := s.audit.Record(ctx, audittrail.Entry{
		Action:   action,
		Subject:  handle.String(),
		Reason:   reason,
		Severity: severity,
	}); err != nil {
		s.logger.ErrorContext(ctx, "record resolve audit entry", "error", err)
	}
	if s.interactions != nil {
		payload := []byte(action + ":" + handle.String() + ":" + requestcontext.ActorRef(ctx))
		if err := s.interactions.LogInteraction(ctx, handle, "identity_resolve", payload); err != nil {
			s.logger.ErrorContext(ctx, "log resolve interaction", "error", err)
		}
	}
}

func generateHandle(tier id.Tier) (id.Handle, error) {
	cfg := tier.Config()
	suffix := make([]byte, cfg.HandleSuffixBytes)
	if _, err := rand.Read(suffix); err != nil {
		return "", err
	}
	return id.Handle(cfg.HandlePrefix + "-" + hex.EncodeToString(suffix)), nil
}

func handleTier(handle id.Handle) id.Tier {
	for _, tier := range id.Tiers() {
		if tier.Config().HandlePrefix == handle.TierPrefix() {
			return tier
		}
	}
	return id.TierVoid
}
