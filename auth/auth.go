// Package auth covers the boundary with the external identity layer. Role
// evaluation happens upstream; warden only verifies the signed principal
// token and checks that the role carried in it is sufficient.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ErrForbidden is returned when the authenticated principal's role is
// insufficient for the requested operation.
var ErrForbidden = errors.New("forbidden: insufficient role")

// ErrNoPrincipal is returned when a request carries no (or an invalid)
// principal token.
var ErrNoPrincipal = errors.New("no authenticated principal")

// Principal is the authenticated caller, passed explicitly to every
// operation which needs one. There is no ambient request-scoped identity.
type Principal struct {
	UserID string
	Role   Role
}

func (p Principal) RequireAdmin() error {
	if p.Role != RoleAdmin {
		return ErrForbidden
	}
	return nil
}

type principalClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ParseToken verifies an HS256 principal token minted by the identity
// service and extracts the Principal from it.
func ParseToken(tokenStr string, secret []byte) (*Principal, error) {
	var claims principalClaims
	tok, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoPrincipal, err)
	}
	if !tok.Valid || claims.Subject == "" {
		return nil, ErrNoPrincipal
	}
	role := Role(claims.Role)
	if role != RoleAdmin {
		role = RoleUser
	}
	return &Principal{
		UserID: claims.Subject,
		Role:   role,
	}, nil
}
