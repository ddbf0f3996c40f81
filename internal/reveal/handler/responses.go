package handler

import (
	"time"

	"veil/internal/reveal"
)

// RequestResponse is the API representation of a reveal request.
type RequestResponse struct {
	RequestID       string     `json:"request_id"`
	Handle          string     `json:"handle"`
	Tier            string     `json:"tier"`
	TriggerType     string     `json:"trigger_type"`
	RequesterRef    string     `json:"requester_ref"`
	Stage           string     `json:"stage"`
	StageEnteredAt  time.Time  `json:"stage_entered_at"`
	CountersignedBy string     `json:"countersigned_by,omitempty"`
	CountersignedAt *time.Time `json:"countersigned_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	DisclosureToken string     `json:"disclosure_token,omitempty"`
}

// FromRequest converts a domain reveal request to its API shape.
func FromRequest(r reveal.Request) RequestResponse {
	resp := RequestResponse{
		RequestID:       r.ID.String(),
		Handle:          r.Handle.String(),
		Tier:            string(r.Tier),
		TriggerType:     string(r.Trigger),
		RequesterRef:    r.RequesterRef,
		Stage:           string(r.Stage),
		StageEnteredAt:  r.StageEnteredAt,
		CountersignedBy: r.CountersignedBy,
		CreatedAt:       r.CreatedAt,
	}
	if !r.CountersignedAt.IsZero() {
		at := r.CountersignedAt
		resp.CountersignedAt = &at
	}
	return resp
}
