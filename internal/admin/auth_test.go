package admin

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	a := NewAuthenticator("s3cret", "lload", time.Hour)

	token, err := a.GenerateToken("ops", 0)
	require.NoError(t, err)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, "lload", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)

	other, err := a.GenerateToken("ops", 0)
	require.NoError(t, err)
	otherClaims, err := a.ValidateToken(other)
	require.NoError(t, err)
	assert.NotEqual(t, claims.ID, otherClaims.ID)
}

func TestValidateTokenRejects(t *testing.T) {
	a := NewAuthenticator("s3cret", "lload", time.Hour)

	wrongKey, err := NewAuthenticator("other", "lload", time.Hour).GenerateToken("ops", 0)
	require.NoError(t, err)
	wrongIssuer, err := NewAuthenticator("s3cret", "someone", time.Hour).GenerateToken("ops", 0)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "lload",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":      "not.a.token",
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"alg none":     none,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.ValidateToken(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestValidateTokenExpired(t *testing.T) {
	a := NewAuthenticator("s3cret", "", time.Minute)
	issued := time.Now().Add(-time.Hour)
	a.now = func() time.Time { return issued }

	token, err := a.GenerateToken("ops", 0)
	require.NoError(t, err)

	a.now = time.Now
	_, err = a.ValidateToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestAuthenticatorWithoutSecret(t *testing.T) {
	a := NewAuthenticator("", "", 0)

	_, err := a.GenerateToken("ops", 0)
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = a.ValidateToken("x.y.z")
	assert.ErrorIs(t, err, ErrNoSecret)
}
