package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/audioserve/audioserve/internal/httputil"
)

type contextKey string

const contextClaims contextKey = "auth-claims"

// Middleware verifies capability tokens against a single shared secret.
type Middleware struct {
	secret []byte
}

func NewMiddleware(secret []byte) *Middleware {
	return &Middleware{secret: secret}
}

// RequireToken verifies the token from the Authorization header, the
// CookieName cookie, or the "token" query parameter (the latter lets a
// <audio> element's plain GET authenticate without custom headers).
func (m *Middleware) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}

		claims, err := Verify(m.secret, token)
		if err != nil {
			httputil.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), contextClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext returns the verified Claims set by RequireToken, if any.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(contextClaims).(Claims)
	return c, ok
}

// CookieName is the cookie clients may present a token in, alongside the
// Authorization header and the "token" query parameter.
const CookieName = "audioserve_token"

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return ""
}
