package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-kyc-access/internal/domain"
)

type roleGate interface {
	AuthorizeRoleGatedRead(ctx context.Context, p domain.Principal, required ...domain.Role) error
}

// RequireRole lets the request through only if the role_assignments store
// says the caller holds one of roles. Token contents never grant a role.
func RequireRole(gate roleGate, roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if err := gate.AuthorizeRoleGatedRead(r.Context(), p, roles...); err != nil {
				if errors.Is(err, domain.ErrUnauthorized) {
					writeJSONError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
				writeJSONError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
