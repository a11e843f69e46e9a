package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// TokenKey is the context key for storing the authenticated bearer token
	TokenKey ContextKey = "bearer_token"
)

// BearerAuth validates the Authorization header against the configured
// token. An empty expected token disables the check (development mode).
func BearerAuth(expected string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if expected == "" {
				c.Set(string(TokenKey), "anonymous")
				return next(c)
			}

			header := c.Request().Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": "bearer token required",
				})
			}

			if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": "invalid bearer token",
				})
			}

			c.Set(string(TokenKey), token)
			return next(c)
		}
	}
}

// GetToken retrieves the authenticated token from the request context.
// Returns empty string if not set.
func GetToken(c echo.Context) string {
	token := c.Get(string(TokenKey))
	if token == nil {
		return ""
	}
	return token.(string)
}
