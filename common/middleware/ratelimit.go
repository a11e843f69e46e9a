package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iceos-ai/iceos/common/ratelimit"
)

// RouteRateLimit gates a route per (token, route) pair. On limiter errors
// the request is allowed; availability wins over strictness here.
func RouteRateLimit(limiter *ratelimit.RateLimiter, limit int64, windowSec int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := GetToken(c)
			if token == "" {
				token = "anonymous"
			}

			result, err := limiter.CheckRouteLimit(c.Request().Context(), token, c.Path(), limit, windowSec)
			if err != nil {
				return next(c)
			}

			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "rate_limit_exceeded",
					"message": "Request quota exceeded for this route. Please wait before retrying.",
					"details": map[string]interface{}{
						"limit":               result.Limit,
						"current_count":       result.CurrentCount,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}
