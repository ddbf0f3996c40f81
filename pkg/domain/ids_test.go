package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "veil/pkg/domain-errors"
)

func TestParseOwnerRefRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"empty string": "",
		"not a uuid":   "not-a-uuid",
		"nil uuid":     uuid.Nil.String(),
		"truncated":    "550e8400-e29b-41d4",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseOwnerRef(input)
			require.Error(t, err)
			assert.True(t, dErrors.Is(err, dErrors.CodeInvalidInput))
		})
	}
}

func TestParseOwnerRefRoundTrip(t *testing.T) {
	fresh := NewOwnerRef()
	parsed, err := ParseOwnerRef(fresh.String())
	require.NoError(t, err)
	assert.Equal(t, fresh, parsed)
	assert.False(t, parsed.IsNil())
}

func TestParseRevealRequestIDRoundTrip(t *testing.T) {
	fresh := NewRevealRequestID()
	parsed, err := ParseRevealRequestID(fresh.String())
	require.NoError(t, err)
	assert.Equal(t, fresh, parsed)

	_, err = ParseRevealRequestID("")
	assert.True(t, dErrors.Is(err, dErrors.CodeInvalidInput))
}

func TestParseHandle(t *testing.T) {
	valid := []string{"onyx-7f3c9a", "obsidian-2a9f01c3", "void-ff"}
	for _, input := range valid {
		h, err := ParseHandle(input)
		require.NoError(t, err, input)
		assert.Equal(t, input, h.String())
	}

	invalid := []string{
		"",
		"onyx",
		"onyx-",
		"onyx-f",
		"Onyx-7f3c9a",
		"onyx-7F3C9A",
		"onyx-7f3c9a7f3c9a7f3c9a",
		"onyx 7f3c9a",
		"void-2a9f01c3-extra",
	}
	for _, input := range invalid {
		_, err := ParseHandle(input)
		require.Error(t, err, input)
		assert.True(t, dErrors.Is(err, dErrors.CodeInvalidInput), input)
	}
}

func TestHandleTierPrefix(t *testing.T) {
	assert.Equal(t, "onyx", Handle("onyx-7f3c9a").TierPrefix())
	assert.Equal(t, "", Handle("noprefix").TierPrefix())
}
