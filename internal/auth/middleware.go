package auth

import (
	"context"
	"net/http"
	"strings"

	"bibliopanel/internal/httpapi"
)

type contextKey struct{}

// Middleware rejects requests without a valid bearer token and stores the
// token claims in the request context.
func Middleware(s *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				httpapi.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
				return
			}
			claims, err := s.ParseToken(strings.TrimSpace(raw))
			if err != nil {
				httpapi.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", ErrInvalidToken.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// ClaimsFrom returns the authenticated admin's claims, if any.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(contextKey{}).(*Claims)
	return c, ok
}
