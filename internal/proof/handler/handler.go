package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"veil/internal/proof"
	id "veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
	"veil/pkg/platform/httputil"
	"veil/pkg/requestcontext"
)

// Service defines the interface for proof engine operations.
type Service interface {
	SubmitInteraction(ctx context.Context, record proof.InteractionRecord) (proof.Receipt, error)
	GetProof(ctx context.Context, proofID id.ProofID) (proof.Proof, proof.Verification, error)
}

// Handler wires proof endpoints to the proof engine.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a proof handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterSubmission mounts the authenticated submission endpoint.
func (h *Handler) RegisterSubmission(r chi.Router) {
	r.Post("/v1/interactions", h.HandleSubmit)
}

// RegisterPublic mounts the unauthenticated verification endpoint. It
// reveals no personal data, so any party, including the end user, may call
// it.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/v1/proofs/{proofID}", h.HandleGetProof)
}

// HandleSubmit handles POST /v1/interactions.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[SubmitInteractionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	receipt, err := h.service.SubmitInteraction(ctx, req.Record())
	if err != nil {
		if dErrors.Is(err, dErrors.CodeProofPending) {
			// Retryable: the commitment is durable, the proof is not ready.
			httputil.WriteJSON(w, http.StatusAccepted, PendingResponse(receipt, err))
			return
		}
		h.logger.WarnContext(ctx, "interaction submission failed",
			"request_id", requestID,
			"record_id", req.ID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "interaction submitted",
		"request_id", requestID,
		"record_id", req.ID,
		"commitment_id", receipt.CommitmentID.String(),
		"proof_ready", receipt.Proof != nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	status := http.StatusAccepted
	if receipt.Proof != nil {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, FromReceipt(receipt))
}

// HandleGetProof handles GET /v1/proofs/{proofID}.
func (h *Handler) HandleGetProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	proofID, err := id.ParseProofID(chi.URLParam(r, "proofID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	p, verification, err := h.service.GetProof(ctx, proofID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromProof(p, verification))
}
