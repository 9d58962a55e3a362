// Package hostadapter is a demo HTTP host that wires pkg/events.Orchestrator
// to the outside world: it extracts a calling principal from a bearer JWT
// and exposes the capability/heartbeat endpoints plus PATCH/DELETE routes
// that feed collection and record changes into the orchestrator.
//
// It is explicitly a demo, not a production authentication layer: a real
// Kinto deployment authenticates through the host application (Pyramid's
// own pluggable authn policies); this package exists only to exercise the
// engine end-to-end over HTTP.
//
// Grounded on pkg/auth/middleware.go's JWTValidator/NewMiddleware shape,
// trimmed to a single HMAC secret and a "principal" claim instead of a
// KeySet-backed multi-tenant validator.
package hostadapter

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey int

const principalContextKey contextKey = 0

// Claims are the JWT claims this demo host understands: the registered
// "sub" claim is used as the Kinto principal (e.g. "account:alice")
// unless an explicit "principal" claim overrides it.
type Claims struct {
	jwt.RegisteredClaims
	Principal string `json:"principal,omitempty"`
}

// PrincipalExtractor validates bearer tokens signed with a shared HMAC
// secret and injects the resulting principal into the request context.
type PrincipalExtractor struct {
	secret []byte
}

func NewPrincipalExtractor(secret []byte) *PrincipalExtractor {
	return &PrincipalExtractor{secret: secret}
}

func (e *PrincipalExtractor) parse(tokenStr string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Method.Alg())
		}
		return e.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("hostadapter: invalid token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("hostadapter: invalid token")
	}
	if claims.Principal != "" {
		return claims.Principal, nil
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("hostadapter: token has no subject or principal claim")
	}
	return claims.Subject, nil
}

// Middleware extracts the bearer token, validates it, and injects the
// principal into the request context. Requests without a valid token are
// rejected with 401 (fail closed).
func (e *PrincipalExtractor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "missing or malformed Authorization header", http.StatusUnauthorized)
			return
		}

		principal, err := e.parse(parts[1])
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PrincipalFromContext returns the principal injected by Middleware.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(principalContextKey).(string)
	return p, ok
}
