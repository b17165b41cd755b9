package encryption_test

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vreid/cluehunt/internal/pkg/common"
	"github.com/vreid/cluehunt/internal/pkg/encryption"
	"pgregory.net/rapid"
)

func newCipher(t *testing.T) *encryption.LocalCipher {
	t.Helper()

	c, err := encryption.NewLocalCipher([]byte(strings.Repeat("k", encryption.KeySize)))
	require.NoError(t, err)

	return c
}

func TestLocalCipherRoundTrip(t *testing.T) {
	t.Parallel()

	c := newCipher(t)
	ctx := t.Context()

	rapid.Check(t, func(t *rapid.T) {
		plaintext := rapid.SliceOf(rapid.Byte()).Draw(t, "plaintext")

		handle, err := c.Encrypt(ctx, plaintext)
		if err != nil {
			t.Fatal(err)
		}

		decrypted, err := c.Decrypt(ctx, handle)
		if err != nil {
			t.Fatal(err)
		}

		if string(decrypted) != string(plaintext) {
			t.Fatalf("round trip mismatch: %q != %q", decrypted, plaintext)
		}
	})
}

func TestLocalCipherEmptyAndLargeInput(t *testing.T) {
	t.Parallel()

	c := newCipher(t)

	handle, err := c.Encrypt(t.Context(), []byte(""))
	require.NoError(t, err)

	payload, err := base64.StdEncoding.DecodeString(handle)
	require.NoError(t, err)
	assert.Len(t, payload, encryption.NonceSize+encryption.TagSize)

	decrypted, err := c.Decrypt(t.Context(), handle)
	require.NoError(t, err)
	assert.NotNil(t, decrypted)
	assert.Empty(t, decrypted)

	large := "[" + strings.Repeat(`{"id": 1, "answer": "the old lighthouse"},`, 200) + `{"id": 2}]`

	handle, err = c.Encrypt(t.Context(), []byte(large))
	require.NoError(t, err)

	decrypted, err = c.Decrypt(t.Context(), handle)
	require.NoError(t, err)
	assert.Equal(t, large, string(decrypted))
}

func TestLocalCipherFreshNonce(t *testing.T) {
	t.Parallel()

	c := newCipher(t)

	first, err := c.Encrypt(t.Context(), []byte("same"))
	require.NoError(t, err)

	second, err := c.Encrypt(t.Context(), []byte("same"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestLocalCipherTamperDetected(t *testing.T) {
	t.Parallel()

	c := newCipher(t)

	handle, err := c.Encrypt(t.Context(), []byte(`[{"id":1,"answer":"x"}]`))
	require.NoError(t, err)

	payload, err := base64.StdEncoding.DecodeString(handle)
	require.NoError(t, err)

	for offset := range payload {
		for _, flip := range []byte{0x01, 0x80} {
			tampered := append([]byte(nil), payload...)
			tampered[offset] ^= flip

			_, err = c.Decrypt(t.Context(), base64.StdEncoding.EncodeToString(tampered))
			require.ErrorIs(t, err, encryption.ErrAuthentication, "offset %d", offset)
		}
	}

	_, err = c.Decrypt(t.Context(), "not base64!")
	require.ErrorIs(t, err, encryption.ErrAuthentication)

	_, err = c.Decrypt(t.Context(), base64.StdEncoding.EncodeToString([]byte("short")))
	require.ErrorIs(t, err, encryption.ErrAuthentication)
}

func TestLocalCipherWrongKey(t *testing.T) {
	t.Parallel()

	c := newCipher(t)

	other, err := encryption.NewLocalCipher([]byte(strings.Repeat("j", encryption.KeySize)))
	require.NoError(t, err)

	handle, err := c.Encrypt(t.Context(), []byte("secret"))
	require.NoError(t, err)

	_, err = other.Decrypt(t.Context(), handle)
	require.ErrorIs(t, err, encryption.ErrAuthentication)
}

func TestParseKey(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Repeat("a", encryption.KeySize))

	key, err := encryption.ParseKey(hex.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, key)

	key, err = encryption.ParseKey(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, key)

	for _, bad := range []string{"", "abcd", base64.StdEncoding.EncodeToString(raw[:16])} {
		_, err = encryption.ParseKey(bad)
		require.ErrorIs(t, err, common.ErrConfiguration, bad)
	}

	_, err = encryption.NewLocalCipher(raw[:31])
	require.ErrorIs(t, err, common.ErrConfiguration)
}
