package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"veil/internal/reveal"
	revealservice "veil/internal/reveal/service"
	id "veil/pkg/domain"
	"veil/pkg/platform/httputil"
	"veil/pkg/requestcontext"
)

// Service defines the interface for reveal state machine operations.
type Service interface {
	Open(ctx context.Context, handle id.Handle, trigger reveal.TriggerType, justification string) (reveal.Request, error)
	Advance(ctx context.Context, requestID id.RevealRequestID, countersign bool) (revealservice.AdvanceResult, error)
	Abort(ctx context.Context, requestID id.RevealRequestID, reason string) (reveal.Request, error)
	Acknowledge(ctx context.Context, requestID id.RevealRequestID) (reveal.Request, error)
	Get(ctx context.Context, requestID id.RevealRequestID) (reveal.Request, error)
	Artifact(ctx context.Context, requestID id.RevealRequestID) ([]byte, error)
}

// Handler wires reveal endpoints to the state machine. Every route here is
// mounted behind actor authentication.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a reveal handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts reveal endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/reveals", h.HandleOpen)
	r.Post("/v1/reveals/{requestID}/advance", h.HandleAdvance)
	r.Post("/v1/reveals/{requestID}/abort", h.HandleAbort)
	r.Post("/v1/reveals/{requestID}/ack", h.HandleAcknowledge)
	r.Get("/v1/reveals/{requestID}", h.HandleGet)
	r.Get("/v1/reveals/{requestID}/artifact", h.HandleArtifact)
}

// HandleOpen handles POST /v1/reveals.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[OpenRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.Open(ctx, req.ParsedHandle(), req.ParsedTrigger(), req.Justification)
	if err != nil {
		h.logger.WarnContext(ctx, "reveal request refused",
			"request_id", requestID,
			"handle", req.Handle,
			"trigger", req.TriggerType,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "reveal request opened",
		"request_id", requestID,
		"reveal_id", result.ID.String(),
		"trigger", string(result.Trigger),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, FromRequest(result))
}

// HandleAdvance handles POST /v1/reveals/{requestID}/advance.
func (h *Handler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	revealID, err := id.ParseRevealRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[AdvanceRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.Advance(ctx, revealID, req.Countersign)
	if err != nil {
		h.logger.WarnContext(ctx, "reveal advance refused",
			"request_id", requestID,
			"reveal_id", revealID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	resp := FromRequest(result.Request)
	resp.DisclosureToken = result.DisclosureToken
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleAbort handles POST /v1/reveals/{requestID}/abort.
func (h *Handler) HandleAbort(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	revealID, err := id.ParseRevealRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[AbortRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.Abort(ctx, revealID, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRequest(result))
}

// HandleAcknowledge handles POST /v1/reveals/{requestID}/ack.
func (h *Handler) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	revealID, err := id.ParseRevealRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.Acknowledge(r.Context(), revealID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRequest(result))
}

// HandleGet handles GET /v1/reveals/{requestID}. Terminal requests stay
// readable permanently.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	revealID, err := id.ParseRevealRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.Get(r.Context(), revealID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRequest(result))
}

// HandleArtifact handles GET /v1/reveals/{requestID}/artifact.
func (h *Handler) HandleArtifact(w http.ResponseWriter, r *http.Request) {
	revealID, err := id.ParseRevealRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	plaintext, err := h.service.Artifact(r.Context(), revealID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(plaintext)
}
