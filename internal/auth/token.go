// Package auth issues and verifies the signed identity tokens carried in
// the token cookie or an Authorization bearer header.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pavelanni/ecgtrainer/internal/model"
)

// Claims is the payload of an identity token.
type Claims struct {
	jwt.RegisteredClaims
	Role model.UserRole `json:"role"`
}

// Identity returns the caller identity carried by the claims.
func (c *Claims) Identity() model.Identity {
	return model.Identity{UserID: c.Subject, Role: c.Role}
}

// Issuer signs tokens with an HMAC secret.
type Issuer struct {
	secret        []byte
	ttl           time.Duration
	refreshWindow time.Duration
	now           func() time.Time
}

// NewIssuer creates an Issuer. Tokens are valid for ttl and are reissued by
// the guard once less than refreshWindow of validity remains.
func NewIssuer(secret string, ttl, refreshWindow time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("invalid token ttl %s", ttl)
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, refreshWindow: refreshWindow, now: time.Now}, nil
}

// TTL returns the validity window of issued tokens.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs a new token for id.
func (i *Issuer) Issue(id model.Identity) (string, *Claims, error) {
	now := i.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Role: id.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks signature and expiry. Failures are reported as
// model.ErrNoToken, model.ErrTokenExpired or model.ErrInvalidToken.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, model.ErrNoToken
	}
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, model.ErrTokenExpired
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, model.ErrInvalidToken
	}
	return claims, nil
}

// NeedsRefresh reports whether a verified token is close enough to expiry
// to be reissued.
func (i *Issuer) NeedsRefresh(c *Claims) bool {
	if c.ExpiresAt == nil {
		return true
	}
	return c.ExpiresAt.Sub(i.now()) < i.refreshWindow
}

// Refresh issues a new token with the same identity and a full validity window.
func (i *Issuer) Refresh(c *Claims) (string, *Claims, error) {
	return i.Issue(c.Identity())
}
