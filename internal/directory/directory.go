// Package directory defines the narrow tenant/user directory port the
// network boundary and document loader need — out of scope per spec.md
// §1, treated as an opaque key-lookup-plus-revocation oracle — plus an
// in-memory fake satisfying it for tests.
package directory

import (
	"context"
	"crypto/ed25519"
	"crypto/rsa"
)

// Directory resolves user identities to their keys and trust status.
type Directory interface {
	// UserExists reports whether userID is known to the directory.
	UserExists(ctx context.Context, userID string) (bool, error)

	// IsRevoked reports whether userID's credentials have been revoked.
	IsRevoked(ctx context.Context, userID string) (bool, error)

	// SigningPublicKey returns the user's trusted signing key, used both
	// to validate challenge signatures and to check that an entry's
	// created_by_public_key belongs to a trusted user before accepting it.
	SigningPublicKey(ctx context.Context, userID string) (ed25519.PublicKey, bool, error)

	// EncryptionPublicKey returns the user's RSA encryption key, used to
	// wrap entry payloads at the network boundary for that recipient.
	EncryptionPublicKey(ctx context.Context, userID string) (*rsa.PublicKey, bool, error)

	// IsTenantAdmin reports whether userID is the signing authority for
	// tenantID's admin-only databases.
	IsTenantAdmin(ctx context.Context, userID, tenantID string) (bool, error)
}
