package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/queueboard/cmd/queueboard/service"
	"github.com/lyzr/queueboard/common/models"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// UsernameKey is the context key for storing the authenticated username
	UsernameKey ContextKey = "username"
)

// TokenVerifier checks a bearer token
type TokenVerifier interface {
	Verify(token string) (*service.Claims, error)
}

// RequireToken rejects requests without a valid bearer token and stores the
// username for handlers. Browsers cannot set headers on a WebSocket upgrade,
// so a "token" query parameter is accepted as well.
//
// With enabled=false every request passes as the anonymous user.
//
// Usage:
//
//	api := e.Group("/api")
//	api.Use(middleware.RequireToken(auth, cfg.Auth.Enabled))
func RequireToken(verifier TokenVerifier, enabled bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !enabled {
				return next(c)
			}

			claims, err := verifier.Verify(bearerToken(c.Request()))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error":   models.KindUnauthorized,
					"message": "valid token required",
				})
			}

			c.Set(string(UsernameKey), claims.Username)
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get(echo.HeaderAuthorization); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// GetUsername retrieves the username from the request context
// Returns empty string if not set
func GetUsername(c echo.Context) string {
	username, _ := c.Get(string(UsernameKey)).(string)
	return username
}
