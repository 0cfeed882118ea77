package credentials

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Phazzie/autoclick/pkg/schema"
)

func testSealer(t *testing.T) *AESSealer {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	s, err := NewAESSealer(SealerConfig{MasterKey: key})
	require.NoError(t, err)
	return s
}

func TestAESSealer_RoundTrip(t *testing.T) {
	s := testSealer(t)

	sealed, err := s.Seal([]byte("hunter2"))
	require.NoError(t, err)

	plain, err := s.Unseal(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), plain)
}

func TestAESSealer_SealedIsNotPlaintext(t *testing.T) {
	s := testSealer(t)

	sealed, err := s.Seal([]byte("plaintext-value"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("plaintext-value"), sealed)
	assert.Greater(t, len(sealed), len("plaintext-value"))
}

func TestAESSealer_PassphraseDerivation(t *testing.T) {
	s, err := NewAESSealer(SealerConfig{
		Passphrase: "my-secure-passphrase",
		Salt:       []byte("test-salt-16byte"),
		Iterations: 1000, // low for test speed
	})
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("value"))
	require.NoError(t, err)
	plain, err := s.Unseal(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), plain)
}

func TestAESSealer_WrongKeyCannotUnseal(t *testing.T) {
	key1 := make([]byte, 32)
	key2 := make([]byte, 32)
	key2[0] = 0xFF

	s1, err := NewAESSealer(SealerConfig{MasterKey: key1})
	require.NoError(t, err)
	s2, err := NewAESSealer(SealerConfig{MasterKey: key2})
	require.NoError(t, err)

	sealed, err := s1.Seal([]byte("hidden"))
	require.NoError(t, err)

	_, err = s2.Unseal(sealed)
	require.Error(t, err)
}

func TestAESSealer_UniqueNonces(t *testing.T) {
	s := testSealer(t)

	ct1, err := s.Seal([]byte("same-value"))
	require.NoError(t, err)
	ct2, err := s.Seal([]byte("same-value"))
	require.NoError(t, err)

	// Same plaintext must produce different ciphertext (random nonce).
	assert.False(t, bytes.Equal(ct1, ct2))
}

func TestAESSealer_TruncatedCiphertext(t *testing.T) {
	s := testSealer(t)

	_, err := s.Unseal([]byte("short"))
	require.Error(t, err)
	var autoErr *schema.AutomationError
	require.True(t, errors.As(err, &autoErr))
	assert.Equal(t, schema.ErrCodeCredential, autoErr.Code)
}

func TestAESSealer_EmptyValue(t *testing.T) {
	s := testSealer(t)

	sealed, err := s.Seal([]byte{})
	require.NoError(t, err)
	plain, err := s.Unseal(sealed)
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestAESSealer_InvalidKeyLength(t *testing.T) {
	_, err := NewAESSealer(SealerConfig{MasterKey: []byte("too-short")})
	require.Error(t, err)
	var autoErr *schema.AutomationError
	require.True(t, errors.As(err, &autoErr))
	assert.Equal(t, schema.ErrCodeCredential, autoErr.Code)
}

func TestAESSealer_NoKeyOrPassphrase(t *testing.T) {
	_, err := NewAESSealer(SealerConfig{})
	require.Error(t, err)
}

func TestAESSealer_PassphraseWithoutSalt(t *testing.T) {
	_, err := NewAESSealer(SealerConfig{Passphrase: "pass"})
	require.Error(t, err)
}
