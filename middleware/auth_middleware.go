package middleware

import (
	"context"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/keydrop/server/utils"
	"go.uber.org/zap"
)

// AccessValidator verifies an access token and resolves the holder's user ID.
type AccessValidator interface {
	ValidateAccess(ctx context.Context, token string) (uuid.UUID, error)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator AccessValidator
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator AccessValidator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// authTokenCookieName is the cookie name for access tokens
// (Authorization header takes precedence)
const authTokenCookieName = "auth_token"

// RequireAuth is a middleware that requires a valid access token. Signup
// tokens are rejected here the same as garbage; only full access tokens
// pass.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := chimiddleware.GetReqID(ctx)

		token := extractToken(r)
		if token == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		userID, err := m.validator.ValidateAccess(ctx, token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx = WithUserID(ctx, userID)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("user_id", userID.String()))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth attaches the caller's user ID to the context when a valid
// access token is presented, and lets the request through anonymously
// otherwise. Invalid tokens do not fail the request; they are simply not
// an identity.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		token := extractToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		userID, err := m.validator.ValidateAccess(ctx, token)
		if err != nil {
			m.logger.Debug("ignoring invalid token on optional-auth route",
				zap.String("request_id", chimiddleware.GetReqID(ctx)),
				zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(ctx, userID)))
	})
}

// extractToken extracts the token from the Authorization header ("Bearer
// TOKEN") or the auth_token cookie. The header takes precedence when both
// are present.
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(authTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
