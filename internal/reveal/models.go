// Package reveal models the progressive identity disclosure lifecycle.
// A reveal request advances strictly forward through its stages; the only
// backward-looking exception is an explicit abort from a pre-disclosure
// stage. Every transition is persisted before it is acknowledged, so crash
// recovery resumes from the last durable stage.
package reveal

import (
	"time"

	"veil/internal/commitment"
	"veil/internal/jwttoken"
	id "veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
)

// Stage is a reveal request's position in the disclosure lifecycle.
type Stage string

const (
	StageInitiated         Stage = "initiated"
	StagePartialDisclosure Stage = "partial_disclosure"
	StageEvidenceReview    Stage = "evidence_review"
	StageFullDisclosure    Stage = "full_disclosure"
	StagePurged            Stage = "purged"
	StageAborted           Stage = "aborted"
)

// forwardOrder is the mandatory stage sequence. Aborted sits outside it.
var forwardOrder = map[Stage]Stage{
	StageInitiated:         StagePartialDisclosure,
	StagePartialDisclosure: StageEvidenceReview,
	StageEvidenceReview:    StageFullDisclosure,
	StageFullDisclosure:    StagePurged,
}

// stageRank orders stages for subsequence checks. Aborted has no rank.
var stageRank = map[Stage]int{
	StageInitiated:         0,
	StagePartialDisclosure: 1,
	StageEvidenceReview:    2,
	StageFullDisclosure:    3,
	StagePurged:            4,
}

// Next returns the mandatory successor stage, or false for terminal stages.
func (s Stage) Next() (Stage, bool) {
	next, ok := forwardOrder[s]
	return next, ok
}

// Terminal reports whether no further transition exists.
func (s Stage) Terminal() bool { return s == StagePurged || s == StageAborted }

// Abortable reports whether an explicit abort is still allowed. Full
// disclosure is a release already acted upon and cannot be revoked.
func (s Stage) Abortable() bool {
	return s == StageInitiated || s == StagePartialDisclosure || s == StageEvidenceReview
}

// AllowsTransitionTo reports whether moving from s to target respects the
// strict forward order with no skipping.
func (s Stage) AllowsTransitionTo(target Stage) bool {
	if target == StageAborted {
		return s.Abortable()
	}
	next, ok := forwardOrder[s]
	return ok && next == target
}

func (s Stage) Valid() bool {
	_, ranked := stageRank[s]
	return ranked || s == StageAborted
}

// TriggerType classifies the emergency or legal condition behind a reveal.
type TriggerType string

const (
	TriggerMedical    TriggerType = "medical"
	TriggerLegal      TriggerType = "legal"
	TriggerSecurity   TriggerType = "security"
	TriggerRegulatory TriggerType = "regulatory"
)

// triggerRoles maps each trigger type to the actor role authorized to raise
// it. The mapping is closed: an unknown trigger authorizes nobody.
var triggerRoles = map[TriggerType]string{
	TriggerMedical:    jwttoken.RoleMedicalResponder,
	TriggerLegal:      jwttoken.RoleLegalAuthority,
	TriggerSecurity:   jwttoken.RoleSecurityOfficer,
	TriggerRegulatory: jwttoken.RoleRegulatoryAuditor,
}

// ParseTriggerType validates untrusted trigger input.
func ParseTriggerType(s string) (TriggerType, error) {
	t := TriggerType(s)
	if _, ok := triggerRoles[t]; !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown trigger type")
	}
	return t, nil
}

// RequiredRole returns the actor role that may raise this trigger.
func (t TriggerType) RequiredRole() string { return triggerRoles[t] }

// Request is the persisted state of one progressive reveal.
type Request struct {
	ID                id.RevealRequestID     `json:"request_id"`
	Handle            id.Handle              `json:"handle"`
	Tier              id.Tier                `json:"tier"`
	Trigger           TriggerType            `json:"trigger_type"`
	RequesterRef      string                 `json:"requester_ref"`
	Stage             Stage                  `json:"stage"`
	StageEnteredAt    time.Time              `json:"stage_entered_at"`
	JustificationHash commitment.PayloadHash `json:"justification_hash"`
	CountersignedBy   string                 `json:"countersigned_by,omitempty"`
	CountersignedAt   time.Time              `json:"countersigned_at,omitzero"`
	CreatedAt         time.Time              `json:"created_at"`

	// DisclosureJTI identifies the one-time disclosure token minted at full
	// disclosure. Held so purge can revoke an unredeemed token; never
	// serialized outward.
	DisclosureJTI string `json:"-"`
}

// ReviewDwellMet reports whether the mandated evidence-review window has
// elapsed as of now. Wall-clock comparison; a request may sit past the
// minimum indefinitely but never advance before it.
func (r Request) ReviewDwellMet(now time.Time) bool {
	if r.Stage != StageEvidenceReview {
		return false
	}
	return now.Sub(r.StageEnteredAt) >= r.Tier.Config().ReviewDwell
}

// Artifact is the encrypted partial-disclosure payload. The key lives only
// in the reveal keystore; discarding it at purge makes the ciphertext
// permanently unreadable while the audit chain keeps the record that a
// disclosure happened.
type Artifact struct {
	KeyID      string `json:"key_id"`
	Ciphertext []byte `json:"ciphertext"`
}
