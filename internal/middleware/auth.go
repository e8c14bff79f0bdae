// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/appforge-labs/appforge/internal/app/domain/user"
	"github.com/appforge-labs/appforge/internal/app/services/users"
	apperrors "github.com/appforge-labs/appforge/internal/errors"
	"github.com/appforge-labs/appforge/internal/httputil"
	"github.com/appforge-labs/appforge/internal/logging"
	"github.com/appforge-labs/appforge/pkg/logger"
)

// APIKeyHeader carries programmatic credentials as an alternative to the
// Authorization bearer token.
const APIKeyHeader = "X-API-Key"

// AuthMiddleware authenticates requests against the users service.
type AuthMiddleware struct {
	users  *users.Service
	logger *logging.Logger
}

// NewAuthMiddleware creates authentication middleware backed by the users
// service.
func NewAuthMiddleware(usersSvc *users.Service, log *logging.Logger) *AuthMiddleware {
	if log == nil {
		log = logging.NewLogger(nil)
	}
	return &AuthMiddleware{users: usersSvc, logger: log}
}

// Handler authenticates the request via API key or bearer token and stores
// the resolved user ID in the request context.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := m.authenticate(r)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		ctx := logging.WithUserID(r.Context(), u.ID)
		m.logger.WithContext(ctx).Debug("authentication successful")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) authenticate(r *http.Request) (user.User, error) {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return m.users.AuthenticateAPIKey(r.Context(), key)
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return user.User{}, apperrors.Unauthorized("Missing Authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return user.User{}, apperrors.Unauthorized("Invalid Authorization header format")
	}
	return m.users.Authenticate(r.Context(), parts[1])
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := apperrors.GetServiceError(err)
	if svcErr == nil {
		svcErr = apperrors.Internal("Authentication failed", err)
	}

	httputil.WriteServiceError(w, svcErr)

	m.logger.WithContext(r.Context()).WithError(err).WithFields(logger.Fields{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": svcErr.HTTPStatus,
	}).Warn("authentication failed")
}

// GetUserID extracts the authenticated user ID from the context.
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// RequireUserID rejects requests whose context carries no authenticated user.
func RequireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			httputil.WriteServiceError(w, apperrors.Unauthorized(""))
			return
		}
		next.ServeHTTP(w, r)
	})
}
