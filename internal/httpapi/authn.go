package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"quitus.org/internal/auth"
	"quitus.org/internal/workflow"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// The public verification surface and operational probes need no token.
var publicPaths = []string{
	"/v1/auth/token",
	"/v1/verify",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			} else {
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := auth.ContextWithActor(r.Context(), claims.Subject, claims.Roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actorWithRole resolves the acting identity and enforces the role an
// endpoint requires. The resulting Actor is passed explicitly into the state
// machine; nothing downstream reads identity from context.
func actorWithRole(ctx context.Context, role string) (workflow.Actor, error) {
	actorID, ok := auth.ActorIDFromContext(ctx)
	if !ok {
		return workflow.Actor{}, errors.New("authentication required")
	}
	if !auth.HasRole(ctx, role) {
		return workflow.Actor{}, errors.New("role " + role + " required")
	}
	return workflow.Actor{ID: actorID, Role: role}, nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
