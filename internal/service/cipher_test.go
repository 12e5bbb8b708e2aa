package service

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abiqua/relay-service/config"
)

func clientCodec(t *testing.T) *PayloadCodec {
	t.Helper()
	c, err := NewPayloadCodec(&config.Config{EncryptionMode: config.EncryptionModeClient})
	require.NoError(t, err)
	return c
}

// cipherBytes is a fixed blob with ciphertext-like byte distribution.
func cipherBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*131 + 7)
	}
	return b
}

func TestDecodeHex(t *testing.T) {
	c := clientCodec(t)

	raw := cipherBytes(32)
	got, err := c.Decode(hex.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestDecodeHexShortBlob(t *testing.T) {
	c := clientCodec(t)

	// "deadbeef" decodes to 4 bytes: too short for the plaintext heuristic,
	// so it passes through as-is.
	got, err := c.Decode("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, got)
}

func TestDecodeBase64(t *testing.T) {
	c := clientCodec(t)

	raw := cipherBytes(48)
	got, err := c.Decode(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestDecodeRejectsPlaintext(t *testing.T) {
	c := clientCodec(t)

	// Raw English text is neither valid hex nor (usually) valid base64.
	_, err := c.Decode("hello there, this is a plaintext message!")
	assert.ErrorIs(t, err, ErrPayloadPlaintext)

	// Base64 that decodes to readable text is also plaintext smuggling.
	armored := base64.StdEncoding.EncodeToString([]byte("this is a secret plaintext message body"))
	_, err = c.Decode(armored)
	assert.ErrorIs(t, err, ErrPayloadPlaintext)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	c := clientCodec(t)

	// Mostly non-printable bytes that are neither hex nor base64.
	_, err := c.Decode("\x01\x02\x03\x04!!\x9f\x80\xfe\xff")
	assert.ErrorIs(t, err, ErrPayloadEncoding)
}

func TestServerModeSeals(t *testing.T) {
	c, err := NewPayloadCodec(&config.Config{
		EncryptionMode:    config.EncryptionModeServer,
		EncryptionKeySeed: "local-dev-seed",
	})
	require.NoError(t, err)

	sealed, err := c.Decode("plain demo text")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "plain demo text")

	// Nonce prefix + ciphertext + tag.
	assert.Greater(t, len(sealed), len("plain demo text"))

	// Distinct nonces: sealing twice never repeats bytes.
	again, err := c.Decode("plain demo text")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again)
}

func TestLooksPrintable(t *testing.T) {
	assert.True(t, looksPrintable([]byte("ordinary text with spaces\n")))
	assert.False(t, looksPrintable(nil))
	assert.False(t, looksPrintable(randomHighEntropy()))
}

func randomHighEntropy() []byte {
	b := make([]byte, 64)
	for i := range b {
		b[i] = byte(i*7 + 128)
	}
	return b
}
