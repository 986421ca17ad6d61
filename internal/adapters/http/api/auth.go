package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Middleware wraps a handler func with a cross-cutting concern.
type Middleware func(http.HandlerFunc) http.HandlerFunc

// Principal identifies the authenticated operator.
type Principal struct {
	Operator string
}

type principalKey struct{}

// PrincipalFromContext returns the operator attached by the auth middleware.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// NoAuth passes requests through unchanged. Used when auth is disabled in
// configuration, e.g. against the simulator.
func NoAuth(next http.HandlerFunc) http.HandlerFunc {
	return next
}

// BearerAuth verifies an HS256 bearer token on every request and attaches
// the operator principal to the context.
func BearerAuth(secret string) Middleware {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", ErrUnauthorized)
				return
			}

			claims := &jwt.RegisteredClaims{}
			parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
				return []byte(secret), nil
			})
			if err != nil || !parsed.Valid || claims.Subject == "" {
				writeError(w, http.StatusUnauthorized, "invalid_credentials", ErrUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey{}, Principal{Operator: claims.Subject})
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	}
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}
