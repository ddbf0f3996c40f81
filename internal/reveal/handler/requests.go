package handler

import (
	"veil/internal/reveal"
	id "veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
)

// OpenRequest is the payload for POST /v1/reveals.
type OpenRequest struct {
	Handle        string `json:"handle"`
	TriggerType   string `json:"trigger_type"`
	Justification string `json:"justification"`

	parsedHandle  id.Handle
	parsedTrigger reveal.TriggerType
}

// Validate parses untrusted fields and caches the typed values.
func (r *OpenRequest) Validate() error {
	handle, err := id.ParseHandle(r.Handle)
	if err != nil {
		return err
	}
	trigger, err := reveal.ParseTriggerType(r.TriggerType)
	if err != nil {
		return err
	}
	if r.Justification == "" {
		return dErrors.New(dErrors.CodeMalformedInput, "justification is required")
	}
	r.parsedHandle = handle
	r.parsedTrigger = trigger
	return nil
}

// ParsedHandle returns the validated handle.
func (r *OpenRequest) ParsedHandle() id.Handle { return r.parsedHandle }

// ParsedTrigger returns the validated trigger type.
func (r *OpenRequest) ParsedTrigger() reveal.TriggerType { return r.parsedTrigger }

// AdvanceRequest is the payload for POST /v1/reveals/{requestID}/advance.
// Countersign marks this call as a reviewer countersignature rather than a
// stage advance.
type AdvanceRequest struct {
	Countersign bool `json:"countersign"`
}

// Validate implements httputil.Validatable. Both field states are legal.
func (r *AdvanceRequest) Validate() error { return nil }

// AbortRequest is the payload for POST /v1/reveals/{requestID}/abort.
type AbortRequest struct {
	Reason string `json:"reason"`
}

// Validate requires an abort reason so the audit entry is never empty.
func (r *AbortRequest) Validate() error {
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeMalformedInput, "abort reason is required")
	}
	return nil
}
