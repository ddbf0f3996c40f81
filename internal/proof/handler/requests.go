package handler

import (
	"strings"

	"veil/internal/commitment"
	"veil/internal/proof"
	id "veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
)

// SubmitInteractionRequest is the HTTP request body for POST /v1/interactions.
type SubmitInteractionRequest struct {
	ID          string            `json:"id"`
	Handle      string            `json:"handle"`
	Category    string            `json:"category"`
	PayloadHash string            `json:"payload_hash"`
	Metadata    map[string]string `json:"context,omitempty"`

	parsedHandle id.Handle
	parsedHash   commitment.PayloadHash
}

// Validate validates and parses the request.
func (r *SubmitInteractionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	r.ID = strings.TrimSpace(r.ID)
	if r.ID == "" {
		return dErrors.New(dErrors.CodeMalformedInput, "id is required")
	}

	handle, err := id.ParseHandle(strings.TrimSpace(r.Handle))
	if err != nil {
		return err
	}
	r.parsedHandle = handle

	r.Category = strings.TrimSpace(r.Category)
	if r.Category == "" {
		return dErrors.New(dErrors.CodeMalformedInput, "category is required")
	}

	hash, err := commitment.ParsePayloadHash(strings.TrimSpace(r.PayloadHash))
	if err != nil {
		return err
	}
	r.parsedHash = hash

	return nil
}

// Record builds the domain interaction record.
func (r *SubmitInteractionRequest) Record() proof.InteractionRecord {
	return proof.InteractionRecord{
		ID:          id.InteractionID(r.ID),
		Handle:      r.parsedHandle,
		Category:    r.Category,
		PayloadHash: r.parsedHash,
		Metadata:    r.Metadata,
	}
}
