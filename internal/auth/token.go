// internal/auth/token.go
package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/user/threadline/internal/types"
)

// sessionClaims is the subset of access-token claims the client reads.
type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// FillClaims populates a session's expiry and user identity from the access
// token's claims when the issuing response omitted them. The token is not
// verified here: the client holds no signing secret, and validity is the
// server's concern. Already-populated fields are left alone.
func FillClaims(s *types.Session) {
	if s == nil || s.AccessToken == "" {
		return
	}
	if !s.ExpiresAt.IsZero() && s.User != nil && s.User.ID != "" {
		return
	}

	var claims sessionClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(s.AccessToken, &claims); err != nil {
		return
	}

	if s.ExpiresAt.IsZero() && claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	if s.User == nil && claims.Subject != "" {
		s.User = &types.User{ID: claims.Subject, Email: claims.Email}
	}
}
