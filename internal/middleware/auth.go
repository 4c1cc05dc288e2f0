package middleware

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/technosupport/ts-telematics/internal/auth"
	"github.com/technosupport/ts-telematics/internal/tokens"
)

type contextKey string

const authContextKey contextKey = "auth_context"

// AuthContext identifies the authenticated operator on management routes.
type AuthContext struct {
	UserID    string
	Role      string
	TokenID   string // jti
	ExpiresAt time.Time
}

func GetAuthContext(ctx context.Context) (*AuthContext, bool) {
	val, ok := ctx.Value(authContextKey).(*AuthContext)
	return val, ok
}

type TokenValidator interface {
	ValidateToken(tokenString string) (*tokens.Claims, error)
}

// JWTAuth guards the management API with Bearer tokens. A revoker, when
// configured, rejects tokens an operator has logged out. Revocation
// store errors fail open with a log; a Redis blip must not lock every
// operator out.
type JWTAuth struct {
	tokens  TokenValidator
	revoker auth.TokenRevoker
}

func NewJWTAuth(t TokenValidator) *JWTAuth {
	return &JWTAuth{tokens: t}
}

func (m *JWTAuth) WithRevoker(r auth.TokenRevoker) *JWTAuth {
	m.revoker = r
	return m
}

func (m *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := m.tokens.ValidateToken(parts[1])
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if m.revoker != nil {
			revoked, err := m.revoker.IsRevoked(r.Context(), claims.ID)
			if err != nil {
				log.Printf("[WARN] JWTAuth: revocation check failed, allowing token: %v", err)
			} else if revoked {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		ac := &AuthContext{
			UserID:  claims.UserID,
			Role:    claims.Role,
			TokenID: claims.ID,
		}
		if claims.ExpiresAt != nil {
			ac.ExpiresAt = claims.ExpiresAt.Time
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authContextKey, ac)))
	})
}

// APIKeyAuth guards the device ingest surface. Presented keys are checked
// against the configured Argon2id hashes; a config reload can rotate keys
// without restarting.
type APIKeyAuth struct {
	hashes func() []string
}

func NewAPIKeyAuth(hashes func() []string) *APIKeyAuth {
	return &APIKeyAuth{hashes: hashes}
}

func (m *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		for _, encoded := range m.hashes() {
			ok, err := auth.CheckAPIKey(key, encoded)
			if err != nil {
				log.Printf("[ERROR] APIKeyAuth: malformed key hash in config: %v", err)
				continue
			}
			if ok {
				next.ServeHTTP(w, r)
				return
			}
		}

		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}
