// Package auth implements the optional bearer-token guard in front of
// the WebSocket upgrade and the two REST endpoints (SPEC_FULL.md §10),
// grounded on the teacher's internal/auth/jwt.go JWT validation shape but
// narrowed to authentication only — there is no user/session model in
// this spec for Bearer to issue tokens against, only to check them.
package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Bearer validates a signed JWT's presence and signature on incoming
// requests. The zero value (no secret) is disabled: Enabled() reports
// false and Authenticate always succeeds, matching the teacher's
// "auth.Enabled()" escape hatch for unauthenticated local/dev instances.
type Bearer struct {
	secret []byte
}

// NewBearer returns a Bearer that requires a valid HS256 JWT signed with
// secret. An empty secret disables the guard.
func NewBearer(secret string) *Bearer {
	return &Bearer{secret: []byte(secret)}
}

// Enabled reports whether a secret was configured.
func (b *Bearer) Enabled() bool {
	return b != nil && len(b.secret) > 0
}

// Authenticate extracts a bearer token from the Authorization header and
// validates its signature and expiry. Disabled instances always return
// true.
func (b *Bearer) Authenticate(r *http.Request) bool {
	if !b.Enabled() {
		return true
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return false
	}
	token := strings.TrimSpace(header[len("bearer "):])
	if token == "" {
		return false
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return b.secret, nil
	})
	return err == nil && parsed.Valid
}
