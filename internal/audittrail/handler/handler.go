// Package handler exposes the read-only transparency surface of the audit
// trail: finalized checkpoints for external verifiers and per-subject audit
// history for authorized reviewers.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"veil/internal/audittrail"
	id "veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
	"veil/pkg/platform/httputil"
)

// Service defines the trail queries the transparency endpoints need.
type Service interface {
	CheckpointsBetween(ctx context.Context, from, to time.Time) ([]audittrail.Checkpoint, error)
	EntriesBySubject(ctx context.Context, subject string) ([]audittrail.Entry, error)
}

// CommitmentLister exposes a handle's commitment history.
type CommitmentLister interface {
	ListCommitmentsByHandle(ctx context.Context, handle id.Handle) ([]audittrail.Commitment, error)
}

type Handler struct {
	service     Service
	commitments CommitmentLister
	logger      *slog.Logger
}

func New(service Service, commitments CommitmentLister, logger *slog.Logger) *Handler {
	return &Handler{service: service, commitments: commitments, logger: logger}
}

// RegisterPublic mounts the unauthenticated transparency endpoints.
// Checkpoints and commitments carry only hashes and anonymous handles, so
// publishing them leaks nothing about owners.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/v1/checkpoints", h.HandleListCheckpoints)
	r.Get("/v1/handles/{handle}/commitments", h.HandleListCommitments)
}

// Register mounts the authenticated audit-history endpoint.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/audit/{subject}", h.HandleListEntries)
}

// HandleListCheckpoints handles GET /v1/checkpoints. Optional from/to query
// parameters bound the window by finalization time, RFC 3339.
func (h *Handler) HandleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r.URL.Query().Get("from"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := parseTimeParam(r.URL.Query().Get("to"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	checkpoints, err := h.service.CheckpointsBetween(r.Context(), from, to)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "checkpoint listing failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromCheckpoints(checkpoints))
}

// HandleListCommitments handles GET /v1/handles/{handle}/commitments.
func (h *Handler) HandleListCommitments(w http.ResponseWriter, r *http.Request) {
	handle, err := id.ParseHandle(chi.URLParam(r, "handle"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	commitments, err := h.commitments.ListCommitmentsByHandle(r.Context(), handle)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromCommitments(commitments))
}

// HandleListEntries handles GET /v1/audit/{subject}.
func (h *Handler) HandleListEntries(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	if subject == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeMalformedInput, "subject is required"))
		return
	}

	entries, err := h.service.EntriesBySubject(r.Context(), subject)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEntries(entries))
}

func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeMalformedInput, "time bounds must be RFC 3339")
	}
	return t, nil
}
