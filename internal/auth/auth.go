// Package auth handles the platform-issued JWT on both sides of the
// daemon: extracting the agent identity from the credential used for the
// platform connection, and verifying the same credential when the UI calls
// the local control API.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Claims is the subset of token claims the daemon cares about
type Claims struct {
	AgentID   string
	Email     string
	Name      string
	Role      string
	ExpiresAt time.Time
}

type contextKey string

// UserContextKey carries the verified Claims through request contexts
const UserContextKey contextKey = "user"

// ParseIdentity extracts the agent identity and expiry from the credential
// without verifying the signature: the daemon received this token from the
// login flow and only needs to know who it is and when to refresh.
func ParseIdentity(tokenString string) (*Claims, error) {
	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claimsFromMap(mapClaims), nil
}

// Expired reports whether the credential needs an out-of-band refresh
func (c *Claims) Expired() bool {
	return !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(time.Now())
}

// Verifier validates bearer tokens on the local control API
type Verifier struct {
	keyfunc jwt.Keyfunc
	skip    bool
	logger  zerolog.Logger
}

// NewVerifier builds a Verifier backed by the platform's JWKS endpoint.
// With skip set (development) tokens are parsed but not verified.
func NewVerifier(jwksURL string, skip bool, logger zerolog.Logger) (*Verifier, error) {
	v := &Verifier{
		skip:   skip,
		logger: logger.With().Str("component", "auth").Logger(),
	}
	if skip {
		return v, nil
	}
	if jwksURL == "" {
		return nil, fmt.Errorf("JWKS_URL required unless SKIP_AUTH is set")
	}
	k, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("create keyfunc: %w", err)
	}
	v.keyfunc = k.Keyfunc
	return v, nil
}

// Middleware validates the bearer token and stores the Claims in the
// request context. Health checks pass through unauthenticated.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		tokenString := extractToken(r)
		if tokenString == "" {
			http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
			return
		}

		claims, err := v.validate(tokenString)
		if err != nil {
			v.logger.Warn().Err(err).Msg("token validation failed")
			http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validate parses and, unless skipping, verifies a token
func (v *Verifier) validate(tokenString string) (*Claims, error) {
	if v.skip {
		claims, err := ParseIdentity(tokenString)
		if err != nil {
			return nil, err
		}
		if claims.Expired() {
			return nil, fmt.Errorf("token expired")
		}
		return claims, nil
	}

	token, err := jwt.Parse(tokenString, v.keyfunc,
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}))
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claimsFromMap(mapClaims), nil
}

// extractToken gets the token from the Authorization header or, for
// browser WebSocket upgrades, a query parameter
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString != authHeader {
			return tokenString
		}
	}
	return r.URL.Query().Get("token")
}

func claimsFromMap(mapClaims jwt.MapClaims) *Claims {
	claims := &Claims{}
	if sub, ok := mapClaims["sub"].(string); ok {
		claims.AgentID = sub
	}
	if email, ok := mapClaims["email"].(string); ok {
		claims.Email = email
	}
	if name, ok := mapClaims["name"].(string); ok {
		claims.Name = name
	} else if preferred, ok := mapClaims["preferred_username"].(string); ok {
		claims.Name = preferred
	}
	if role, ok := mapClaims["role"].(string); ok {
		claims.Role = role
	}
	if exp, ok := mapClaims["exp"].(float64); ok {
		claims.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return claims
}

// GetUserFromContext retrieves claims stored by the middleware
func GetUserFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*Claims)
	return claims, ok
}
