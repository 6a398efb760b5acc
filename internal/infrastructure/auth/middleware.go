package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
)

type contextKey string

const claimsKey contextKey = "admin_claims"

// AdminFromContext returns the claims stored by AuthMiddleware.
func AdminFromContext(ctx context.Context) (*models.AdminClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*models.AdminClaims)
	return claims, ok
}

func AuthMiddleware(a *AdminAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "authorization header missing", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}

			claims, err := a.ValidateJWT(r.Context(), parts[1])
			if err != nil {
				http.Error(w, "invalid or revoked token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
