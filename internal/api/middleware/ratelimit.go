package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// NewRateLimiter admits requests through a shared token bucket. Rejected
// requests get 429 with a Retry-After hint; onReject may be nil.
func NewRateLimiter(limiter *rate.Limiter, onReject func()) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := limiter.Reserve()
			if !r.OK() {
				return reject(c, 1, onReject)
			}
			if delay := r.Delay(); delay > 0 {
				r.Cancel()
				return reject(c, int(math.Ceil(delay.Seconds())), onReject)
			}
			return next(c)
		}
	}
}

func reject(c echo.Context, retryAfter int, onReject func()) error {
	if onReject != nil {
		onReject()
	}
	c.Response().Header().Set(echo.HeaderRetryAfter, strconv.Itoa(max(retryAfter, 1)))
	return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, retry later")
}
