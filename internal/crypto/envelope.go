package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// Envelope is the RSA transport wrap from spec.md §4.5: small payloads are
// RSA-OAEP-encrypted directly; payloads larger than the RSA modulus can
// carry are hybrid-wrapped (a fresh symmetric key, itself RSA-OAEP
// wrapped, encrypts the payload). Mode records which was used so
// RSADecryptHybrid knows how to reverse it.
type Envelope struct {
	Mode       string `json:"mode"` // "direct" or "hybrid"
	WrappedKey []byte `json:"wrapped_key,omitempty"` // hybrid only
	Payload    []byte `json:"payload"`
}

const (
	modeDirect = "direct"
	modeHybrid = "hybrid"
)

// maxDirectSize returns the largest plaintext RSA-OAEP-SHA256 can wrap
// directly for the given key size: k - 2*hashLen - 2.
func maxDirectSize(pub *rsa.PublicKey) int {
	k := pub.Size()
	hashLen := sha256.Size
	max := k - 2*hashLen - 2
	if max < 0 {
		return 0
	}
	return max
}

// RSAEncryptHybrid wraps plaintext for recipient pub. Plaintext that fits
// one RSA-OAEP block is encrypted directly (OAEP padding is randomized);
// larger plaintext is sealed under a fresh symmetric key and nonce, and
// that key is RSA-wrapped. In both modes repeated calls on identical
// plaintext never produce identical ciphertext.
func RSAEncryptHybrid(pub *rsa.PublicKey, plaintext []byte) (Envelope, error) {
	if len(plaintext) <= maxDirectSize(pub) {
		wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
		if err != nil {
			return Envelope{}, fmt.Errorf("crypto: rsa-oaep direct encrypt: %w", err)
		}
		return Envelope{Mode: modeDirect, Payload: wrapped}, nil
	}

	symKey, err := NewSymmetricKey()
	if err != nil {
		return Envelope{}, err
	}
	ciphertext, err := EncryptSymmetric(symKey, plaintext)
	if err != nil {
		return Envelope{}, err
	}
	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, symKey, nil)
	if err != nil {
		return Envelope{}, fmt.Errorf("crypto: rsa-oaep key wrap: %w", err)
	}
	return Envelope{Mode: modeHybrid, WrappedKey: wrappedKey, Payload: ciphertext}, nil
}

// RSADecryptHybrid reverses RSAEncryptHybrid.
func RSADecryptHybrid(priv *rsa.PrivateKey, env Envelope) ([]byte, error) {
	switch env.Mode {
	case modeDirect:
		plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, env.Payload, nil)
		if err != nil {
			return nil, fmt.Errorf("crypto: rsa-oaep direct decrypt: %w", err)
		}
		return plaintext, nil
	case modeHybrid:
		symKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, env.WrappedKey, nil)
		if err != nil {
			return nil, fmt.Errorf("crypto: rsa-oaep key unwrap: %w", err)
		}
		return DecryptSymmetric(symKey, env.Payload)
	default:
		return nil, fmt.Errorf("crypto: unknown envelope mode %q", env.Mode)
	}
}
