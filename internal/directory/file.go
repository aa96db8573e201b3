package directory

import (
	"context"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// fileUser is the on-disk shape of one directory entry.
type fileUser struct {
	SigningPublicKey    string `json:"signing_public_key"`    // base64 std, raw ed25519 key
	EncryptionPublicKey string `json:"encryption_public_key"` // base64 std, PKIX DER
	Revoked             bool   `json:"revoked"`
	TenantAdminFor      string `json:"tenant_admin_for,omitempty"`
}

// fileSchema is the on-disk shape of a directory file: a flat map of
// user id to record.
type fileSchema struct {
	Users map[string]fileUser `json:"users"`
}

// File is a Directory backed by a JSON file, for single-node deployments
// that have no real tenant/user service to call out to. Loaded once at
// construction; call Reload to pick up edits without restarting.
type File struct {
	path string

	mu    sync.RWMutex
	users map[string]User
}

var _ Directory = (*File)(nil)

// LoadFile reads and parses the directory file at path.
func LoadFile(path string) (*File, error) {
	f := &File{path: path}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload re-reads the directory file from disk, replacing the in-memory
// record set atomically on success. A parse failure leaves the previous
// records in place.
func (f *File) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("directory: read %s: %w", f.path, err)
	}
	var schema fileSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return fmt.Errorf("directory: parse %s: %w", f.path, err)
	}

	users := make(map[string]User, len(schema.Users))
	for id, rec := range schema.Users {
		u, err := decodeUser(rec)
		if err != nil {
			return fmt.Errorf("directory: user %s: %w", id, err)
		}
		users[id] = u
	}

	f.mu.Lock()
	f.users = users
	f.mu.Unlock()
	return nil
}

func decodeUser(rec fileUser) (User, error) {
	var u User
	if rec.SigningPublicKey != "" {
		raw, err := base64.StdEncoding.DecodeString(rec.SigningPublicKey)
		if err != nil {
			return u, fmt.Errorf("signing_public_key: %w", err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return u, fmt.Errorf("signing_public_key: want %d bytes, got %d", ed25519.PublicKeySize, len(raw))
		}
		u.SigningKey = ed25519.PublicKey(raw)
	}
	if rec.EncryptionPublicKey != "" {
		der, err := base64.StdEncoding.DecodeString(rec.EncryptionPublicKey)
		if err != nil {
			return u, fmt.Errorf("encryption_public_key: %w", err)
		}
		pub, err := x509.ParsePKIXPublicKey(der)
		if err != nil {
			return u, fmt.Errorf("encryption_public_key: %w", err)
		}
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return u, fmt.Errorf("encryption_public_key: not an RSA key")
		}
		u.EncryptionKey = rsaPub
	}
	u.Revoked = rec.Revoked
	u.TenantAdminFor = rec.TenantAdminFor
	return u, nil
}

func (f *File) UserExists(_ context.Context, userID string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.users[userID]
	return ok, nil
}

func (f *File) IsRevoked(_ context.Context, userID string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	u, ok := f.users[userID]
	if !ok {
		return false, nil
	}
	return u.Revoked, nil
}

func (f *File) SigningPublicKey(_ context.Context, userID string) (ed25519.PublicKey, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, false, nil
	}
	return u.SigningKey, true, nil
}

func (f *File) EncryptionPublicKey(_ context.Context, userID string) (*rsa.PublicKey, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, false, nil
	}
	return u.EncryptionKey, true, nil
}

func (f *File) IsTenantAdmin(_ context.Context, userID, tenantID string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	u, ok := f.users[userID]
	if !ok {
		return false, nil
	}
	return u.TenantAdminFor == tenantID, nil
}
