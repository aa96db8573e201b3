// Package auth implements the network boundary's authentication service
// from spec.md §4.5: challenge issuance with TTL and single-use
// enforcement, and HMAC-signed token mint/validate, grounded on the
// teacher's internal/rpc token-gated TCP transport (token_auth_test.go).
package auth

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/mindoo/mindoo-core/internal/directory"
	"github.com/mindoo/mindoo-core/internal/idgen"
	"github.com/mindoo/mindoo-core/internal/logging"
	"github.com/mindoo/mindoo-core/internal/types"
)

// Challenge is the server's record of an outstanding authentication
// challenge.
type Challenge struct {
	ID        string
	User      string
	TenantID  string
	DBID      string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// Service issues challenges and authenticates responses to them, per
// spec.md §4.5 "Authentication service (server-side)".
type Service struct {
	directory    directory.Directory
	jwtSecret    []byte
	challengeTTL time.Duration
	tokenTTL     time.Duration
	log          *logging.Logger

	mu         sync.Mutex
	challenges map[string]*Challenge
}

// NewService constructs a Service. jwtSecret is the process-local HMAC
// key; challengeTTL/tokenTTL of zero fall back to the spec defaults (5
// minutes, 1 hour). log may be nil.
func NewService(dir directory.Directory, jwtSecret []byte, challengeTTL, tokenTTL time.Duration, log *logging.Logger) *Service {
	if challengeTTL <= 0 {
		challengeTTL = 5 * time.Minute
	}
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &Service{
		directory:    dir,
		jwtSecret:    jwtSecret,
		challengeTTL: challengeTTL,
		tokenTTL:     tokenTTL,
		log:          log,
		challenges:   make(map[string]*Challenge),
	}
}

// GenerateChallenge mints a fresh challenge for user, after verifying the
// user exists and is not revoked. It opportunistically sweeps expired
// challenges first (spec.md §4.5 "Expired challenges are swept
// opportunistically on each generate_challenge").
func (s *Service) GenerateChallenge(ctx context.Context, user, tenantID, dbID string) (string, error) {
	exists, err := s.directory.UserExists(ctx, user)
	if err != nil {
		return "", fmt.Errorf("auth: check user exists: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", types.ErrUserNotFound, user)
	}
	revoked, err := s.directory.IsRevoked(ctx, user)
	if err != nil {
		return "", fmt.Errorf("auth: check user revoked: %w", err)
	}
	if revoked {
		return "", fmt.Errorf("%w: %s", types.ErrUserRevoked, user)
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepExpiredLocked(now)

	id := idgen.NewAttachmentChunkID() // time-ordered unique id; same shape the spec asks for
	s.challenges[id] = &Challenge{
		ID:        id,
		User:      user,
		TenantID:  tenantID,
		DBID:      dbID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.challengeTTL),
	}
	return id, nil
}

// sweepExpiredLocked removes challenges past their expiry. Callers must
// hold s.mu.
func (s *Service) sweepExpiredLocked(now time.Time) {
	for id, c := range s.challenges {
		if now.After(c.ExpiresAt) {
			delete(s.challenges, id)
		}
	}
}

// Authenticate validates signature over challengeID using the
// challenge's user's trusted signing key, marks the challenge used, and
// issues a token on success. It fails with the distinct reasons spec.md
// §4.5 names: challenge not found, expired, already used, user not
// found/revoked, invalid signature.
func (s *Service) Authenticate(ctx context.Context, challengeID string, signature []byte) (string, error) {
	s.mu.Lock()
	c, ok := s.challenges[challengeID]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", types.ErrChallengeNotFound, challengeID)
	}
	if time.Now().After(c.ExpiresAt) {
		delete(s.challenges, challengeID)
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", types.ErrChallengeExpired, challengeID)
	}
	if c.Used {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", types.ErrChallengeUsed, challengeID)
	}
	user, tenantID, dbID := c.User, c.TenantID, c.DBID
	s.mu.Unlock()

	exists, err := s.directory.UserExists(ctx, user)
	if err != nil {
		return "", fmt.Errorf("auth: check user exists: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", types.ErrUserNotFound, user)
	}
	revoked, err := s.directory.IsRevoked(ctx, user)
	if err != nil {
		return "", fmt.Errorf("auth: check user revoked: %w", err)
	}
	if revoked {
		return "", fmt.Errorf("%w: %s", types.ErrUserRevoked, user)
	}

	signingKey, found, err := s.directory.SigningPublicKey(ctx, user)
	if err != nil {
		return "", fmt.Errorf("auth: lookup signing key: %w", err)
	}
	if !found || !verifyChallenge(signingKey, challengeID, signature) {
		return "", fmt.Errorf("%w: bad signature over challenge", types.ErrInvalidSignature)
	}

	s.mu.Lock()
	c, ok = s.challenges[challengeID]
	if !ok || c.Used {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", types.ErrChallengeUsed, challengeID)
	}
	c.Used = true
	s.mu.Unlock()

	return s.mintToken(user, tenantID, dbID)
}

func verifyChallenge(pub ed25519.PublicKey, challengeID string, signature []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, []byte(challengeID), signature)
}

