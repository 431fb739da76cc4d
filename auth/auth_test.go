package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func mintToken(t *testing.T, secret []byte, sub, role string, exp time.Duration) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(exp).Unix(),
	})
	out, err := tok.SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestParseToken(t *testing.T) {
	assert := assert.New(t)
	secret := []byte("test-secret")

	p, err := ParseToken(mintToken(t, secret, "user123", "admin", time.Hour), secret)
	assert.NoError(err)
	assert.Equal("user123", p.UserID)
	assert.Equal(RoleAdmin, p.Role)
	assert.NoError(p.RequireAdmin())

	// unknown roles collapse to plain user
	p, err = ParseToken(mintToken(t, secret, "user456", "superuser", time.Hour), secret)
	assert.NoError(err)
	assert.Equal(RoleUser, p.Role)
	assert.ErrorIs(p.RequireAdmin(), ErrForbidden)

	// wrong secret
	_, err = ParseToken(mintToken(t, secret, "user123", "admin", time.Hour), []byte("other"))
	assert.ErrorIs(err, ErrNoPrincipal)

	// expired
	_, err = ParseToken(mintToken(t, secret, "user123", "admin", -time.Hour), secret)
	assert.ErrorIs(err, ErrNoPrincipal)
}
