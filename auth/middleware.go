package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

const principalContextKey = "warden-principal"

// Middleware extracts a bearer principal token, verifies it, and stashes the
// Principal on the request context. Requests without a token pass through
// unauthenticated; handlers decide whether a principal is required.
func Middleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			hdr := c.Request().Header.Get(echo.HeaderAuthorization)
			if hdr == "" || !strings.HasPrefix(hdr, "Bearer ") {
				return next(c)
			}
			principal, err := ParseToken(strings.TrimPrefix(hdr, "Bearer "), secret)
			if err != nil {
				return &echo.HTTPError{
					Code:    401,
					Message: "invalid principal token",
				}
			}
			c.Set(principalContextKey, principal)
			return next(c)
		}
	}
}

// FromEcho returns the authenticated Principal for a request, or
// ErrNoPrincipal if the request was unauthenticated.
func FromEcho(c echo.Context) (*Principal, error) {
	v := c.Get(principalContextKey)
	principal, ok := v.(*Principal)
	if !ok || principal == nil {
		return nil, ErrNoPrincipal
	}
	return principal, nil
}
