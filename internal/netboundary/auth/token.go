package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mindoo/mindoo-core/internal/types"
)

// Claims is the token payload spec.md §4.5 describes as
// { sub=user, iat, exp, tenant_id, db_id? }. It embeds
// jwt.RegisteredClaims so the three-part { header, payload, mac }
// structure the spec names *is* a standard HS256 JWT.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
	DBID     string `json:"db_id,omitempty"`
}

// mintToken signs a fresh HS256 token for user/tenantID/dbID, valid for
// s.tokenTTL.
func (s *Service) mintToken(user, tenantID, dbID string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
		TenantID: tenantID,
		DBID:     dbID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken checks token's MAC and expiry, then consults the
// directory for revocation, per spec.md §4.5 "validate_token: MAC check
// → expiry check → directory revocation check".
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return Claims{}, fmt.Errorf("%w: %v", types.ErrInvalidToken, err)
	}

	revoked, err := s.directory.IsRevoked(ctx, claims.Subject)
	if err != nil {
		return Claims{}, fmt.Errorf("auth: check user revoked: %w", err)
	}
	if revoked {
		return Claims{}, fmt.Errorf("%w: %s", types.ErrUserRevoked, claims.Subject)
	}

	return claims, nil
}
