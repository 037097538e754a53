// Package auth issues and validates actor tokens. Access tokens (2h TTL)
// authorize page and category calls; refresh tokens (30d TTL) obtain a
// new pair. Both carry the actor id as subject and the tenant as a
// claim, so every request resolves to an explicit actor.Actor.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/primal-host/primal-pages/internal/actor"
)

// Token scopes.
const (
	ScopeAccess  = "pages.access"
	ScopeRefresh = "pages.refresh"
)

// Token lifetimes.
const (
	AccessTTL  = 2 * time.Hour
	RefreshTTL = 30 * 24 * time.Hour
)

// Claims extends the standard JWT claims with a scope and tenant.
type Claims struct {
	jwt.RegisteredClaims
	Scope  string `json:"scope"`
	Tenant string `json:"tenant"`
}

// TokenPair holds an access/refresh JWT pair.
type TokenPair struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
}

// JWTManager signs and validates JWT tokens using HS256.
type JWTManager struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTManager creates a manager with the given HMAC secret and issuer.
func NewJWTManager(secret, issuer string) *JWTManager {
	return &JWTManager{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// GenerateSecret returns a random 32-byte hex string for use as a JWT secret.
func GenerateSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// CreateTokenPair generates an access/refresh token pair for act.
func (m *JWTManager) CreateTokenPair(act actor.Actor) (*TokenPair, error) {
	if !act.Valid() {
		return nil, fmt.Errorf("auth: actor and tenant are required")
	}
	access, err := m.sign(act, ScopeAccess, AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("auth: sign access token: %w", err)
	}
	refresh, err := m.sign(act, ScopeRefresh, RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("auth: sign refresh token: %w", err)
	}
	return &TokenPair{AccessJwt: access, RefreshJwt: refresh}, nil
}

// ValidateAccessToken parses and validates an access token, returning
// the actor it was issued to.
func (m *JWTManager) ValidateAccessToken(tokenStr string) (actor.Actor, error) {
	return m.validate(tokenStr, ScopeAccess)
}

// ValidateRefreshToken parses and validates a refresh token.
func (m *JWTManager) ValidateRefreshToken(tokenStr string) (actor.Actor, error) {
	return m.validate(tokenStr, ScopeRefresh)
}

func (m *JWTManager) sign(act actor.Actor, scope string, ttl time.Duration) (string, error) {
	now := m.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   act.ID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope:  scope,
		Tenant: act.TenantID,
	})
	return token.SignedString(m.secret)
}

func (m *JWTManager) validate(tokenStr, expectedScope string) (actor.Actor, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithTimeFunc(m.now))
	if err != nil {
		return actor.Actor{}, fmt.Errorf("auth: invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return actor.Actor{}, fmt.Errorf("auth: invalid token claims")
	}
	if claims.Scope != expectedScope {
		return actor.Actor{}, fmt.Errorf("auth: wrong scope: got %q, want %q", claims.Scope, expectedScope)
	}

	act := actor.Actor{ID: claims.Subject, TenantID: claims.Tenant}
	if !act.Valid() {
		return actor.Actor{}, fmt.Errorf("auth: missing subject or tenant")
	}
	return act, nil
}
