// Package jwttoken issues and validates the two token kinds the engine
// understands: actor bearer tokens (whose role claims gate reveal triggers
// and countersignatures) and one-time disclosure tokens minted by the reveal
// state machine at full disclosure.
package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
	pkgstrings "veil/pkg/platform/strings"
)

// Actor roles. A trigger type is only accepted from actors holding the
// matching role; Reviewer countersigns evidence review.
const (
	RoleMedicalResponder  = "medical_responder"
	RoleLegalAuthority    = "legal_authority"
	RoleSecurityOfficer   = "security_officer"
	RoleRegulatoryAuditor = "regulatory_auditor"
	RoleReviewer          = "reviewer"
	RoleOnboarding        = "onboarding"
)

// ActorClaims are the claims carried by an actor bearer token.
type ActorClaims struct {
	ActorRef string   `json:"actor_ref"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the actor holds the given role.
func (c *ActorClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// DisclosureClaims are the claims of a one-time disclosure token. The token
// is scoped to exactly one reveal request and one handle; the registry
// additionally enforces single use via the consumption store.
type DisclosureClaims struct {
	Scope     string `json:"scope"`
	RequestID string `json:"request_id"`
	Handle    string `json:"handle"`
	jwt.RegisteredClaims
}

const disclosureScope = "identity_disclosure"

// Service handles JWT creation and validation.
type Service struct {
	signingKey []byte
	issuer     string
}

func NewService(signingKey, issuer string) *Service {
	return &Service{signingKey: []byte(signingKey), issuer: issuer}
}

// GenerateActorToken mints a bearer token for an authorized actor. Role
// claims are normalized to lowercase and deduplicated.
func (s *Service) GenerateActorToken(actorRef string, roles []string, expiresIn time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ActorClaims{
		ActorRef: actorRef,
		Roles:    pkgstrings.DedupeAndTrimLower(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// ValidateActorToken parses and validates an actor bearer token.
func (s *Service) ValidateActorToken(tokenString string) (*ActorClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &ActorClaims{}, s.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*ActorClaims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// GenerateDisclosureToken mints the one-time token that unlocks
// resolve_handle for a single reveal request. Returns the signed token and
// its JTI, which the registry records as consumed on first use.
func (s *Service) GenerateDisclosureToken(requestID id.RevealRequestID, handle id.Handle, ttl time.Duration) (string, string, error) {
	jti := uuid.NewString()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, DisclosureClaims{
		Scope:     disclosureScope,
		RequestID: requestID.String(),
		Handle:    handle.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			ID:        jti,
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

// ValidateDisclosureToken parses a disclosure token and checks its scope.
// Single-use enforcement is the caller's job (the registry consumes the JTI).
func (s *Service) ValidateDisclosureToken(tokenString string) (*DisclosureClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &DisclosureClaims{}, s.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeAccessDenied, "disclosure token has expired")
		}
		return nil, dErrors.New(dErrors.CodeAccessDenied, "invalid disclosure token")
	}
	claims, ok := parsed.Claims.(*DisclosureClaims)
	if !ok || !parsed.Valid || claims.Scope != disclosureScope {
		return nil, dErrors.New(dErrors.CodeAccessDenied, "invalid disclosure token claims")
	}
	return claims, nil
}

func (s *Service) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, jwt.ErrTokenUnverifiable
	}
	return s.signingKey, nil
}
