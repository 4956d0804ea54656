package handlers

import (
	"net/http"
	"strings"

	"github.com/ambercart/api/internal/platform/httpx"
	"github.com/ambercart/api/internal/platform/requestctx"
)

// Identity headers asserted by the upstream auth gateway. The gateway strips
// them from inbound traffic, so their presence is trusted here.
const (
	headerUserID    = "X-User-ID"
	headerUserEmail = "X-User-Email"
	headerUserRole  = "X-User-Role"
)

// IdentityMiddleware lifts the gateway identity headers onto the request
// context. Requests without the headers pass through as anonymous.
func IdentityMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(headerUserID))
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := requestctx.WithIdentity(r.Context(), requestctx.Identity{
				UserID: userID,
				Email:  strings.ToLower(strings.TrimSpace(r.Header.Get(headerUserEmail))),
				Role:   strings.TrimSpace(r.Header.Get(headerUserRole)),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireIdentity rejects anonymous requests.
func RequireIdentity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := requestctx.IdentityFrom(r.Context()); !ok {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := requestctx.IdentityFrom(r.Context())
			if !ok {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
				return
			}
			if !identity.IsAdmin() {
				httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "admin role required", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
