package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/ecgtrainer/internal/model"
)

func newTestIssuer(t *testing.T, now time.Time) *Issuer {
	t.Helper()
	iss, err := NewIssuer("test-secret", time.Hour, 5*time.Minute)
	require.NoError(t, err)
	iss.now = func() time.Time { return now }
	return iss
}

func TestIssueAndVerify(t *testing.T) {
	now := time.Now()
	iss := newTestIssuer(t, now)

	tok, issued, err := iss.Issue(model.Identity{UserID: "u1", Role: model.UserRoleAdmin})
	require.NoError(t, err)
	assert.NotEmpty(t, issued.ID)

	claims, err := iss.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, model.Identity{UserID: "u1", Role: model.UserRoleAdmin}, claims.Identity())
	assert.Equal(t, issued.ID, claims.ID)
	assert.False(t, iss.NeedsRefresh(claims))
}

func TestVerifyFailures(t *testing.T) {
	now := time.Now()
	iss := newTestIssuer(t, now)
	tok, _, err := iss.Issue(model.Identity{UserID: "u1", Role: model.UserRoleUser})
	require.NoError(t, err)

	other, err := NewIssuer("other-secret", time.Hour, 5*time.Minute)
	require.NoError(t, err)
	foreign, _, err := other.Issue(model.Identity{UserID: "u1", Role: model.UserRoleAdmin})
	require.NoError(t, err)

	noneTok, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		at    time.Time
		want  error
	}{
		{"missing", "", now, model.ErrNoToken},
		{"garbage", "not.a.token", now, model.ErrInvalidToken},
		{"wrong secret", foreign, now, model.ErrInvalidToken},
		{"none algorithm", noneTok, now, model.ErrInvalidToken},
		{"expired", tok, now.Add(time.Hour + time.Second), model.ErrTokenExpired},
		{"long expired", tok, now.Add(48 * time.Hour), model.ErrTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iss.now = func() time.Time { return tt.at }
			_, err := iss.Verify(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRefresh(t *testing.T) {
	now := time.Now()
	iss := newTestIssuer(t, now)
	tok, _, err := iss.Issue(model.Identity{UserID: "u1", Role: model.UserRoleUser})
	require.NoError(t, err)

	// Four minutes before expiry the token is still valid but due for refresh.
	later := now.Add(56 * time.Minute)
	iss.now = func() time.Time { return later }
	claims, err := iss.Verify(tok)
	require.NoError(t, err)
	assert.True(t, iss.NeedsRefresh(claims))

	fresh, freshClaims, err := iss.Refresh(claims)
	require.NoError(t, err)
	assert.NotEqual(t, tok, fresh)
	assert.Equal(t, claims.Identity(), freshClaims.Identity())
	assert.Equal(t, time.Hour, freshClaims.ExpiresAt.Sub(freshClaims.IssuedAt.Time))
	assert.NotEqual(t, claims.ID, freshClaims.ID)
}

func TestNewIssuerRejectsEmptySecret(t *testing.T) {
	_, err := NewIssuer("", time.Hour, time.Minute)
	assert.Error(t, err)
	_, err = NewIssuer("s", 0, time.Minute)
	assert.Error(t, err)
}
