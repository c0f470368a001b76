package httpapi

import (
	"net/http"
	"strings"
	"time"

	"quitus.org/internal/auth"
)

type tokenRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in"`
}

// handleAuthToken issues a short-lived bearer token. Identity management is
// external in production; this endpoint backs local development and tests.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ActorID) == "" {
		writeError(w, r, http.StatusBadRequest, "actor_id is required")
		return
	}
	for _, role := range req.Roles {
		if !auth.KnownRole(strings.ToLower(strings.TrimSpace(role))) {
			writeError(w, r, http.StatusBadRequest, "unknown role: "+role)
			return
		}
	}

	const ttl = 30 * time.Minute
	token, err := auth.GenerateToken(req.ActorID, req.Roles, ttl)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int64(ttl.Seconds()),
	})
}
