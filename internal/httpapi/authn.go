package httpapi

import (
	"net/http"
	"strings"

	"accessgate.io/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var errNoToken = auth.E(auth.ErrAuth, "not authorized, no token")

type identityHandler func(w http.ResponseWriter, r *http.Request, id auth.Identity)

// authed resolves the bearer token and hands the identity to next. Role checks
// are left to the services.
func (a *API) authed(next identityHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			handleError(w, r, err)
			return
		}
		id, err := a.svc.Auth.ResolveToken(token)
		if err != nil {
			handleError(w, r, err)
			return
		}
		ctx := auth.ContextWithIdentity(r.Context(), id)
		next(w, r.WithContext(ctx), id)
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" || strings.EqualFold(header, strings.TrimSpace(bearer)) {
		return "", errNoToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", auth.E(auth.ErrAuth, "not authorized, invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errNoToken
	}
	return token, nil
}
