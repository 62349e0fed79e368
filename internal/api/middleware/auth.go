package middleware

import (
	"net/http"

	"github.com/adminpilot/control-plane/pkg/contracts"
	pkgmw "github.com/adminpilot/control-plane/pkg/middleware"
	"github.com/rs/zerolog/log"
)

// Authenticate resolves the caller through the provider chain and stores the
// Identity in the request context. Requests without a valid credential are
// rejected with 401 and never reach the handler.
func Authenticate(chain contracts.AuthProviderChain) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := chain.Authenticate(r.Context(), r)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("Authentication failed")
			}
			if err != nil || identity == nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="adminpilot"`)
				writeError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required")
				return
			}
			next.ServeHTTP(w, r.WithContext(pkgmw.SetIdentity(r.Context(), identity)))
		})
	}
}

// RequireRole rejects authenticated callers that do not carry role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := pkgmw.GetIdentity(r.Context())
			if identity == nil {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required")
				return
			}
			if !identity.HasRole(role) {
				log.Warn().
					Str("subject", identity.Subject).
					Str("role", identity.Role).
					Str("path", r.URL.Path).
					Msg("Access denied: administrator role required")
				writeError(w, http.StatusForbidden, "unauthorized", "Administrator access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
