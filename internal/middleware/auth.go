// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ask-dwight/coach-platform/internal/model"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// OwnerKey is the context key for the resolved conversation owner.
	OwnerKey ContextKey = "owner"
)

// SessionHeader carries the anonymous session id for unauthenticated
// visitors.
const SessionHeader = "X-Session-ID"

// Claims represents JWT claims.
type Claims struct {
	jwt.RegisteredClaims
}

// Identity resolves the request owner. A valid bearer token yields an
// authenticated user; otherwise the session header identifies an anonymous
// visitor. A present but invalid token is rejected rather than silently
// downgraded to anonymous.
func Identity(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var owner model.Owner

			authHeader := r.Header.Get("Authorization")
			if authHeader != "" {
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
					http.Error(w, `{"error":"invalid authorization header format"}`, http.StatusUnauthorized)
					return
				}

				claims := &Claims{}
				token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
					if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, jwt.ErrSignatureInvalid
					}
					return []byte(jwtSecret), nil
				})
				if err != nil || !token.Valid {
					http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
					return
				}
				owner.UserID = claims.Subject
			}

			if owner.UserID == "" {
				owner.SessionID = r.Header.Get(SessionHeader)
			}

			ctx := context.WithValue(r.Context(), OwnerKey, owner)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireOwner rejects requests that carry neither a user identity nor a
// session id. Conversations need an owner to attach to.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := GetOwner(r.Context())
		if owner.Anonymous() && owner.SessionID == "" {
			http.Error(w, `{"error":"missing session or authorization"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser rejects requests without an authenticated user. Used for
// operations that only make sense post-login, like claiming session
// history.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetOwner(r.Context()).UserID == "" {
			http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetOwner gets the resolved owner from context.
func GetOwner(ctx context.Context) model.Owner {
	if v := ctx.Value(OwnerKey); v != nil {
		return v.(model.Owner)
	}
	return model.Owner{}
}
