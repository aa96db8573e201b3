package directory

import (
	"context"
	"crypto/ed25519"
	"crypto/rsa"
	"sync"
)

// User is one record in the Fake directory.
type User struct {
	SigningKey     ed25519.PublicKey
	EncryptionKey  *rsa.PublicKey
	Revoked        bool
	TenantAdminFor string // tenant_id this user is the admin signer for, if any
}

// Fake is an in-memory Directory for tests and single-node deployments.
type Fake struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewFake returns an empty Fake directory.
func NewFake() *Fake {
	return &Fake{users: make(map[string]User)}
}

var _ Directory = (*Fake)(nil)

// Put adds or replaces a user record.
func (f *Fake) Put(userID string, u User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID] = u
}

// Revoke marks userID as revoked.
func (f *Fake) Revoke(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.Revoked = true
	f.users[userID] = u
}

func (f *Fake) UserExists(_ context.Context, userID string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.users[userID]
	return ok, nil
}

func (f *Fake) IsRevoked(_ context.Context, userID string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	u, ok := f.users[userID]
	if !ok {
		return false, nil
	}
	return u.Revoked, nil
}

func (f *Fake) SigningPublicKey(_ context.Context, userID string) (ed25519.PublicKey, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, false, nil
	}
	return u.SigningKey, true, nil
}

func (f *Fake) EncryptionPublicKey(_ context.Context, userID string) (*rsa.PublicKey, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, false, nil
	}
	return u.EncryptionKey, true, nil
}

func (f *Fake) IsTenantAdmin(_ context.Context, userID, tenantID string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	u, ok := f.users[userID]
	if !ok {
		return false, nil
	}
	return u.TenantAdminFor == tenantID, nil
}
