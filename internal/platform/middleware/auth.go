package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"veil/internal/jwttoken"
	"veil/pkg/requestcontext"
)

// ActorValidator validates actor bearer tokens.
type ActorValidator interface {
	ValidateActorToken(tokenString string) (*jwttoken.ActorClaims, error)
}

// RequireAuth enforces a valid actor bearer token and injects the actor
// reference and roles into the request context. Used on every restricted
// route; the public proof-verification surface skips it.
func RequireAuth(validator ActorValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
				return
			}
			claims, err := validator.ValidateActorToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				logger.WarnContext(r.Context(), "rejected bearer token",
					"path", r.URL.Path,
					"error", err,
				)
				http.Error(w, `{"error":"invalid bearer token"}`, http.StatusUnauthorized)
				return
			}
			ctx := requestcontext.WithActorRef(r.Context(), claims.ActorRef)
			ctx = requestcontext.WithActorRoles(ctx, claims.Roles)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole additionally gates a route on one specific role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, held := range requestcontext.ActorRoles(r.Context()) {
				if held == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, `{"error":"insufficient role"}`, http.StatusForbidden)
		})
	}
}
