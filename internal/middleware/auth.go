package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopfront/shopfront-api/internal/logging"
	"github.com/shopfront/shopfront-api/internal/models"
	"github.com/shopfront/shopfront-api/internal/services"
	"go.uber.org/zap"
)

type userKey struct{}

// Authenticator resolves a bearer token to an active user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the user stored by Protect.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userKey{}).(*models.User)
	return user, ok && user != nil
}

// Protect requires a valid "Authorization: Bearer <token>" header.
func Protect(auth Authenticator, logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			token = strings.TrimSpace(token)
			if !ok || token == "" {
				writeError(w, http.StatusUnauthorized, "Not authorized, no token")
				return
			}

			user, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, services.ErrUnauthorized) {
					writeError(w, http.StatusUnauthorized, err.Error())
					return
				}
				logging.FromContext(r.Context(), logger).Error("authentication failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "Server error")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireRole admits users holding one of roles. It must run after Protect.
// The rejection names the first role: "Not authorized as admin".
func RequireRole(roles ...string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok || !slices.Contains(roles, user.Role) {
				writeError(w, http.StatusForbidden, "Not authorized as "+roles[0])
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
