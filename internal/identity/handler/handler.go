package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"veil/internal/identity"
	"veil/internal/jwttoken"
	"veil/internal/platform/metrics"
	"veil/internal/platform/middleware"
	id "veil/pkg/domain"
	"veil/pkg/platform/httputil"
	"veil/pkg/requestcontext"
)

// Service defines the interface for registry operations.
type Service interface {
	Assign(ctx context.Context, owner id.OwnerRef, tier id.Tier) (identity.Public, error)
	ResolveHandle(ctx context.Context, handle id.Handle, disclosureToken string) (id.OwnerRef, error)
	GetPublic(ctx context.Context, handle id.Handle) (identity.Public, error)
}

// Handler wires registry endpoints to the identity service.
type Handler struct {
	service Service
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New constructs an identity handler with its dependencies.
func New(service Service, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{service: service, logger: logger, metrics: m}
}

// Register mounts registry endpoints. Assignment is restricted to the
// onboarding role; resolution demands a disclosure token on top of actor
// auth, so the route-level gate stays at authentication.
func (h *Handler) Register(r chi.Router) {
	r.With(middleware.RequireRole(jwttoken.RoleOnboarding)).
		Post("/v1/identities", h.HandleAssign)
	r.Post("/v1/identities/{handle}/resolve", h.HandleResolve)
	r.Get("/v1/identities/{handle}", h.HandleGetPublic)
}

// HandleAssign handles POST /v1/identities.
func (h *Handler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[AssignRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	ident, err := h.service.Assign(ctx, req.Owner(), req.ParsedTier())
	if err != nil {
		h.logger.WarnContext(ctx, "identity assignment failed",
			"request_id", requestID,
			"tier", req.Tier,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.metrics.IncrementIdentitiesAssigned()
	h.logger.InfoContext(ctx, "identity assigned",
		"request_id", requestID,
		"handle", ident.Handle.String(),
		"tier", string(ident.Tier),
	)
	httputil.WriteJSON(w, http.StatusCreated, FromPublic(ident))
}

// HandleResolve handles POST /v1/identities/{handle}/resolve. The disclosure
// token in the body is the actual capability; it is minted only at full
// disclosure and consumed on first use.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	handle, err := id.ParseHandle(chi.URLParam(r, "handle"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[ResolveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	owner, err := h.service.ResolveHandle(ctx, handle, req.DisclosureToken)
	if err != nil {
		h.logger.WarnContext(ctx, "handle resolution denied",
			"request_id", requestID,
			"handle", handle.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, ResolveResponse{OwnerRef: owner.String()})
}

// HandleGetPublic handles GET /v1/identities/{handle}.
func (h *Handler) HandleGetPublic(w http.ResponseWriter, r *http.Request) {
	handle, err := id.ParseHandle(strings.TrimSpace(chi.URLParam(r, "handle")))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ident, err := h.service.GetPublic(r.Context(), handle)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromPublic(ident))
}
