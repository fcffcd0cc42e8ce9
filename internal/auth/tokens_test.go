package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestTokens(t *testing.T, clock *fakeClock) *TokenManager {
	t.Helper()
	tokens, err := NewTokenManager(TokenConfig{
		Secret:     "unit-secret",
		Issuer:     "covenant",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: time.Hour,
		Now:        clock.Now,
	})
	require.NoError(t, err)
	return tokens
}

func TestVerifyRoundTripsPrincipal(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	tokens := newTestTokens(t, clock)
	want := Principal{ID: "u1", DisplayName: "Ruth", Role: "viewer", LinkedResourceID: "m1"}

	token, expiresAt, err := tokens.IssueAccess(want)
	require.NoError(t, err)
	assert.Equal(t, clock.now.Add(15*time.Minute), expiresAt)

	got, err := tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestVerifyDistinguishesFailures(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	tokens := newTestTokens(t, clock)
	token, _, err := tokens.IssueAccess(Principal{ID: "u1", DisplayName: "Ruth", Role: "staff"})
	require.NoError(t, err)

	_, err = tokens.Verify("")
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = tokens.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	tampered := token[:len(token)-2] + flip(token[len(token)-2:])
	_, err = tokens.Verify(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewTokenManager(TokenConfig{Secret: "other-secret", Issuer: "covenant", Now: clock.Now})
	require.NoError(t, err)
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	clock.now = clock.now.Add(16 * time.Minute)
	_, err = tokens.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.NotErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	tokens := newTestTokens(t, clock)
	p := Principal{ID: "u1", Role: "staff"}

	refresh, _, err := tokens.IssueRefresh(p)
	require.NoError(t, err)
	_, err = tokens.Verify(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)

	access, _, err := tokens.IssueAccess(p)
	require.NoError(t, err)
	_, err = tokens.VerifyRefresh(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsUnsignedAlgorithm(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	tokens := newTestTokens(t, clock)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "covenant",
			ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Hour)),
		},
		Role: "super_admin",
		Type: tokenTypeAccess,
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = tokens.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "", BearerToken(""))
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer   abc "))
	assert.Equal(t, "Basic dXNlcg==", BearerToken("Basic dXNlcg=="))
}

func TestNewTokenManagerRequiresSecret(t *testing.T) {
	_, err := NewTokenManager(TokenConfig{Secret: "  "})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "auth:"))
}

func flip(s string) string {
	out := []byte(s)
	for i := range out {
		if out[i] == 'A' {
			out[i] = 'B'
		} else {
			out[i] = 'A'
		}
	}
	return string(out)
}
