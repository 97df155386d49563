// Package tokens mints and validates the bearer tokens that gate
// internal/adminapi, adapted from the teacher's multi-tenant
// internal/tokens package down to telempostd's single-role "operator" admin
// model — there are no tenants or users here, just one administrative
// surface per daemon instance.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for any signature, expiry, or claim failure.
var ErrInvalidToken = errors.New("invalid token")

// RoleOperator is the sole role an admin token can carry.
const RoleOperator = "operator"

// Claims identifies an admin API caller. There is exactly one role in this
// daemon's admin model, so TenantID/UserID from the teacher's multi-tenant
// claims collapse into a single Role field plus the registered claims (jti
// for revocation, expiry).
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Manager mints and validates operator tokens signed with a single HS256
// key.
type Manager struct {
	signingKey []byte
}

// NewManager returns a Manager using signingKey for HS256.
func NewManager(signingKey string) *Manager {
	return &Manager{signingKey: []byte(signingKey)}
}

// GenerateOperatorToken mints a token valid for ttl, carrying a fresh jti so
// it can be individually revoked via internal/auth.TokenBlacklist.
func (m *Manager) GenerateOperatorToken(ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Role: RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingKey)
}

// ValidateToken parses and verifies tokenString, returning its claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Role != RoleOperator {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
