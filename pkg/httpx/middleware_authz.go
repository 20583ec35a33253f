package httpx

import (
	"net/http"

	"github.com/aussiebroadwan/authcore/pkg/policy"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// RequireScopes guards a handler with a scope requirement. The caller must
// hold at least one of the required scopes (or the admin scope). Run this
// after AuthnMiddleware so the scopes are on the context.
func RequireScopes(req policy.Requirement) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			d := policy.Decide(ScopesFromContext(ctx), req)
			if !d.Allowed {
				slogx.FromContext(ctx).Warn("authorization denied",
					"subject", SubjectFromContext(ctx),
					"endpoint", r.URL.Path,
					"reason", d.Reason,
				)
				WriteBearerScopeError(w, http.StatusForbidden, req.AnyOf...)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyScope the caller must have at least one of the provided scopes.
func RequireAnyScope(required ...string) Middleware {
	return RequireScopes(policy.Any(required...))
}

// MountGuarded registers each handler on mux behind the scope requirement
// the table declares for its pattern, plus a per-subject rate limit, so the
// whole access policy for a resource surface reads from one Table.
// AuthnMiddleware must run upstream so the subject and scopes are on the
// request context; patterns absent from the table require authentication
// only.
func MountGuarded(mux *http.ServeMux, table policy.Table, limit RateLimitConfig, handlers map[string]http.Handler) {
	for pattern, h := range handlers {
		mux.Handle(pattern, Chain(h,
			RateLimitBySubject(limit),
			RequireScopes(table.Lookup(pattern)),
		))
	}
}
