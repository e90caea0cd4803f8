// Package auth issues and checks the bearer tokens that bind a client to
// its playback session.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sendrec/cueplayer/internal/httputil"
)

type contextKey string

const sessionIDKey contextKey = "sessionID"

type Authenticator struct {
	secret   string
	lifetime time.Duration
}

func New(secret string, lifetime time.Duration) *Authenticator {
	if lifetime <= 0 {
		lifetime = SessionTokenDuration
	}
	return &Authenticator{secret: secret, lifetime: lifetime}
}

func (a *Authenticator) Issue(sessionID string) (string, error) {
	return GenerateSessionToken(a.secret, sessionID, a.lifetime)
}

// Middleware requires a bearer token issued for the session named by the
// {id} route parameter.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "authorization header required")
			return
		}

		tokenStr, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		claims, err := ValidateToken(a.secret, tokenStr)
		if err != nil {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		if id := chi.URLParam(r, "id"); id != "" && id != claims.SessionID {
			httputil.WriteError(w, http.StatusForbidden, "token does not match session")
			return
		}

		ctx := context.WithValue(r.Context(), sessionIDKey, claims.SessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func SessionIDFromContext(ctx context.Context) string {
	sessionID, _ := ctx.Value(sessionIDKey).(string)
	return sessionID
}
