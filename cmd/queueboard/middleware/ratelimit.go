package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/queueboard/common/logger"
	"github.com/lyzr/queueboard/common/ratelimit"
)

// KeyFunc picks the counter a request is charged to
type KeyFunc func(c echo.Context) string

// ByRealIP charges requests to the client address
func ByRealIP(prefix string) KeyFunc {
	return func(c echo.Context) string {
		return prefix + c.RealIP()
	}
}

// RateLimit rejects requests over limit per window with 429. Limiter errors
// let the request through. A zero limit disables the check.
func RateLimit(limiter ratelimit.Limiter, key KeyFunc, limit int64, window time.Duration, log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if limit <= 0 {
			return next
		}
		return func(c echo.Context) error {
			result, err := limiter.Allow(c.Request().Context(), key(c), limit, window)
			if err != nil {
				log.WithContext(c.Request().Context()).Warn("rate limit check failed, allowing request", "error", err)
				return next(c)
			}

			if !result.Allowed {
				retry := int64(math.Ceil(result.RetryAfter.Seconds()))
				c.Response().Header().Set("Retry-After", strconv.FormatInt(retry, 10))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":               "rate_limited",
					"message":             "too many attempts, try again later",
					"retry_after_seconds": retry,
				})
			}

			return next(c)
		}
	}
}
