// Package crypto provides the signing, symmetric AEAD, and RSA-OAEP hybrid
// envelope adapters spec.md §4.5 treats as opaque cryptographic primitives
// supplied by an external collaborator. This package gives the rest of the
// repo one concrete implementation to call.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
)

// ErrInvalidSignature names a signature mismatch (distinct from a hard
// error — "untrusted", not "broken"). Verify reports a mismatch as false
// and does not return this error.
var ErrInvalidSignature = errors.New("crypto: invalid signature")

// SigningKeyPair is a user's ed25519 signing identity.
type SigningKeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateSigningKeyPair creates a fresh ed25519 key pair.
func GenerateSigningKeyPair() (SigningKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SigningKeyPair{}, err
	}
	return SigningKeyPair{Public: pub, Private: priv}, nil
}

// Sign signs data with priv.
func Sign(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

// Verify reports whether sig is a valid signature over data by pub.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}
