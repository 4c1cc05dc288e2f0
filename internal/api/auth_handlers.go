package api

import (
	"net/http"
	"time"

	"github.com/technosupport/ts-telematics/internal/auth"
	"github.com/technosupport/ts-telematics/internal/middleware"
)

type AuthHandler struct {
	Revoker auth.TokenRevoker
}

func NewAuthHandler(revoker auth.TokenRevoker) *AuthHandler {
	return &AuthHandler{Revoker: revoker}
}

// Logout handles POST /api/v1/auth/logout. It revokes the presented
// token for its remaining lifetime.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok || ac.TokenID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ttl := time.Until(ac.ExpiresAt)
	if err := h.Revoker.Revoke(r.Context(), ac.TokenID, ttl); err != nil {
		http.Error(w, "failed to revoke token", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
