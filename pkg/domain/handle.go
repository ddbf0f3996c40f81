package domain

import (
	"regexp"
	"strings"

	dErrors "veil/pkg/domain-errors"
)

// Handle is a tier-scoped pseudonym, e.g. "void-2a9f01c3". It stands in for
// the owner in every normal-path interaction; nothing outside the registry
// may map it back to an OwnerRef.
type Handle string

var handlePattern = regexp.MustCompile(`^[a-z]+-[0-9a-f]{2,16}$`)

// ParseHandle validates a handle from untrusted input.
func ParseHandle(s string) (Handle, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "handle must not be empty")
	}
	if len(s) > 64 || !handlePattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "handle has invalid format")
	}
	return Handle(s), nil
}

func (h Handle) String() string { return string(h) }

// TierPrefix returns the namespace portion before the first dash.
func (h Handle) TierPrefix() string {
	if i := strings.IndexByte(string(h), '-'); i > 0 {
		return string(h)[:i]
	}
	return ""
}
