package handler

import (
	"strings"
	"time"

	"veil/internal/identity"
	id "veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
)

// AssignRequest is the HTTP request body for POST /v1/identities.
type AssignRequest struct {
	OwnerRef string `json:"owner_ref"`
	Tier     string `json:"tier"`

	parsedOwner id.OwnerRef
	parsedTier  id.Tier
}

// Validate validates and parses the request.
func (r *AssignRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	owner, err := id.ParseOwnerRef(strings.TrimSpace(r.OwnerRef))
	if err != nil {
		return err
	}
	r.parsedOwner = owner

	tier, err := id.ParseTier(strings.TrimSpace(r.Tier))
	if err != nil {
		return err
	}
	r.parsedTier = tier

	return nil
}

// Owner returns the validated owner reference.
func (r *AssignRequest) Owner() id.OwnerRef { return r.parsedOwner }

// ParsedTier returns the validated tier.
func (r *AssignRequest) ParsedTier() id.Tier { return r.parsedTier }

// ResolveRequest is the HTTP request body for handle resolution.
type ResolveRequest struct {
	DisclosureToken string `json:"disclosure_token"`
}

// Validate validates the request.
func (r *ResolveRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.DisclosureToken = strings.TrimSpace(r.DisclosureToken)
	if r.DisclosureToken == "" {
		return dErrors.New(dErrors.CodeAccessDenied, "disclosure token is required")
	}
	return nil
}

// ResolveResponse carries the de-anonymized owner reference. It is returned
// only through the one-time disclosure path.
type ResolveResponse struct {
	OwnerRef string `json:"owner_ref"`
}

// PublicResponse is the owner-stripped identity view.
type PublicResponse struct {
	Handle      string    `json:"handle"`
	Tier        string    `json:"tier"`
	RevealState string    `json:"reveal_state"`
	CreatedAt   time.Time `json:"created_at"`
}

// FromPublic converts the registry's public view.
func FromPublic(p identity.Public) PublicResponse {
	return PublicResponse{
		Handle:      p.Handle.String(),
		Tier:        string(p.Tier),
		RevealState: string(p.RevealState),
		CreatedAt:   p.CreatedAt,
	}
}
