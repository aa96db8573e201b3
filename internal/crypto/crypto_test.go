package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateSigningKeyPair()
	require.NoError(t, err)

	data := []byte("entry bytes to sign")
	sig := Sign(kp.Private, data)
	assert.True(t, Verify(kp.Public, data, sig))
	assert.False(t, Verify(kp.Public, []byte("tampered"), sig))
}

func TestSymmetricEncryptDecryptRoundTrip(t *testing.T) {
	key, err := NewSymmetricKey()
	require.NoError(t, err)

	plaintext := []byte("document payload bytes")
	ciphertext, err := EncryptSymmetric(key, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := DecryptSymmetric(key, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestSymmetricEncryptionIsNonDeterministic(t *testing.T) {
	key, err := NewSymmetricKey()
	require.NoError(t, err)

	plaintext := []byte("same plaintext twice")
	c1, err := EncryptSymmetric(key, plaintext)
	require.NoError(t, err)
	c2, err := EncryptSymmetric(key, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2, "fresh nonce per call must change the ciphertext")
}

func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return priv
}

func TestRSAEncryptHybridDirectModeForSmallPayload(t *testing.T) {
	priv := testRSAKey(t)
	plaintext := []byte("short payload")

	env, err := RSAEncryptHybrid(&priv.PublicKey, plaintext)
	require.NoError(t, err)
	assert.Equal(t, modeDirect, env.Mode)

	decrypted, err := RSADecryptHybrid(priv, env)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestRSAEncryptHybridModeForLargePayload(t *testing.T) {
	priv := testRSAKey(t)
	plaintext := make([]byte, 4096)
	for i := range plaintext {
		plaintext[i] = byte(i % 251)
	}

	env, err := RSAEncryptHybrid(&priv.PublicKey, plaintext)
	require.NoError(t, err)
	assert.Equal(t, modeHybrid, env.Mode)
	assert.NotEmpty(t, env.WrappedKey)

	decrypted, err := RSADecryptHybrid(priv, env)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestRSAEncryptHybridIsNonDeterministic(t *testing.T) {
	priv := testRSAKey(t)
	plaintext := make([]byte, 4096)

	env1, err := RSAEncryptHybrid(&priv.PublicKey, plaintext)
	require.NoError(t, err)
	env2, err := RSAEncryptHybrid(&priv.PublicKey, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, env1.Payload, env2.Payload)
}
