package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher([]byte("32-byte-key-for-aes-encryption!!"))
	require.NoError(t, err)

	ciphertext, nonce, err := c.Encrypt("tok_secret_value")
	require.NoError(t, err)
	assert.NotEqual(t, []byte("tok_secret_value"), ciphertext)

	plaintext, err := c.Decrypt(ciphertext, nonce)
	require.NoError(t, err)
	assert.Equal(t, "tok_secret_value", plaintext)
}

func TestCipher_RejectsBadKey(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	assert.Error(t, err)
}

func TestCipher_RejectsTamperedCiphertext(t *testing.T) {
	c, err := NewCipher([]byte("32-byte-key-for-aes-encryption!!"))
	require.NoError(t, err)

	ciphertext, nonce, err := c.Encrypt("tok_secret_value")
	require.NoError(t, err)

	ciphertext[0] ^= 0xff
	_, err = c.Decrypt(ciphertext, nonce)
	assert.Error(t, err)
}
