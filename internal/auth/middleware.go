// Package auth wires Identity.Verify into the HTTP middleware chain and
// enforces role-based access at the route boundary.
package auth

import (
	"net/http"
	"strings"

	"github.com/wisbric/safeguard/internal/errs"
	"github.com/wisbric/safeguard/internal/httpserver"
	"github.com/wisbric/safeguard/pkg/identity"
)

// Middleware extracts a bearer token, verifies it against Identity, and
// attaches the resulting Principal to the request context. It does not by
// itself reject unauthenticated requests — RequireAuth does, so public
// routes (register/login/refresh/health) can share the same router group.
func Middleware(svc *identity.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			p, err := svc.Verify(r.Context(), token)
			if err != nil {
				httpserver.RespondError(w, nil, err)
				return
			}

			ctx := identity.NewContext(r.Context(), p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects requests that carried no valid bearer token.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity.FromContext(r.Context()) == nil {
			httpserver.RespondError(w, nil, errs.New(errs.Authn, "MissingToken", "authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects requests whose principal does not hold one of the
// listed roles.
func RequireRole(allowed ...identity.Role) func(http.Handler) http.Handler {
	set := make(map[identity.Role]struct{}, len(allowed))
	for _, r := range allowed {
		set[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := identity.FromContext(r.Context())
			if p == nil {
				httpserver.RespondError(w, nil, errs.New(errs.Authn, "MissingToken", "authentication required"))
				return
			}
			if _, ok := set[p.Role]; !ok {
				httpserver.RespondError(w, nil, identity.Denied())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}
