package keystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veil/pkg/platform/sentinel"
)

func TestSealOpenRoundTrip(t *testing.T) {
	ks := New()
	keyID, err := ks.Issue()
	require.NoError(t, err)

	plaintext := []byte(`{"handle":"void-2a9f01c3","tier":"void"}`)
	aad := []byte("request-1")

	sealed, err := ks.Seal(keyID, plaintext, aad)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "void-2a9f01c3")

	opened, err := ks.Open(keyID, sealed, aad)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestOpenRejectsWrongAdditionalData(t *testing.T) {
	ks := New()
	keyID, err := ks.Issue()
	require.NoError(t, err)

	sealed, err := ks.Seal(keyID, []byte("payload"), []byte("request-1"))
	require.NoError(t, err)

	// Rebinding the artifact to another request must fail.
	_, err = ks.Open(keyID, sealed, []byte("request-2"))
	assert.Error(t, err)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	ks := New()
	keyID, err := ks.Issue()
	require.NoError(t, err)

	sealed, err := ks.Seal(keyID, []byte("payload"), []byte("request-1"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0x01

	_, err = ks.Open(keyID, sealed, []byte("request-1"))
	assert.Error(t, err)
}

func TestDiscardMakesArtifactUnrecoverable(t *testing.T) {
	ks := New()
	keyID, err := ks.Issue()
	require.NoError(t, err)

	sealed, err := ks.Seal(keyID, []byte("payload"), []byte("request-1"))
	require.NoError(t, err)

	ks.Discard(keyID)

	_, err = ks.Open(keyID, sealed, []byte("request-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	// Discard replays are no-ops.
	assert.NotPanics(t, func() { ks.Discard(keyID) })
}

func TestIssuedKeysAreIndependent(t *testing.T) {
	ks := New()
	first, err := ks.Issue()
	require.NoError(t, err)
	second, err := ks.Issue()
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	sealed, err := ks.Seal(first, []byte("payload"), []byte("request-1"))
	require.NoError(t, err)

	_, err = ks.Open(second, sealed, []byte("request-1"))
	assert.Error(t, err)
}
