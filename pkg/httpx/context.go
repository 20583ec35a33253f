package httpx

import (
	"context"

	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

type ctxKey string

const (
	CtxKeySubject ctxKey = "subject"
	CtxKeyScopes  ctxKey = "scopes"
	CtxKeyClaims  ctxKey = "claims"
)

// ScopesFromContext returns the scopes attached by AuthnMiddleware, or nil.
func ScopesFromContext(ctx context.Context) []string {
	if v, ok := ctx.Value(CtxKeyScopes).([]string); ok {
		return v
	}
	return nil
}

// SubjectFromContext returns the authenticated subject, or "".
func SubjectFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeySubject).(string); ok {
		return v
	}
	return ""
}

// ClaimsFromContext returns the full verified claims, or nil.
func ClaimsFromContext(ctx context.Context) *jwtx.Claims {
	if v, ok := ctx.Value(CtxKeyClaims).(*jwtx.Claims); ok {
		return v
	}
	return nil
}
