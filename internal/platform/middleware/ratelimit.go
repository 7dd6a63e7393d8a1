package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateClass is one throttling tier: a sustained rate plus a burst allowance.
type RateClass struct {
	RequestsPerSecond float64
	BurstSize         int
}

// RateLimitConfig throttles API callers. Ordinary reads and writes share the
// Default class. Bulk requests (spreadsheet import, demo seeding and demo
// clearing) are drawn from a separate, tighter budget chosen by the caller's
// role; roles missing from Bulk use Bulk[""].
type RateLimitConfig struct {
	Default   RateClass
	Bulk      map[string]RateClass
	ExpiresIn time.Duration
	// Role reports the caller's role. Nil treats every caller as roleless.
	Role func(c echo.Context) string
}

// DefaultRateLimitConfig suits a single clinic front desk.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Default: RateClass{RequestsPerSecond: 20, BurstSize: 60},
		Bulk: map[string]RateClass{
			"admin":  {RequestsPerSecond: 0.5, BurstSize: 5},
			"doctor": {RequestsPerSecond: 0.1, BurstSize: 2},
			"":       {RequestsPerSecond: 0.05, BurstSize: 1},
		},
		ExpiresIn: 10 * time.Minute,
	}
}

// IsBulkRequest reports whether the request writes patient rows in bulk.
func IsBulkRequest(c echo.Context) bool {
	path := strings.TrimSuffix(c.Request().URL.Path, "/")
	switch c.Request().Method {
	case http.MethodPost:
		return strings.HasSuffix(path, "/import") || strings.HasSuffix(path, "/demo/generate")
	case http.MethodDelete:
		return strings.HasSuffix(path, "/demo")
	}
	return false
}

// callerKey buckets signed-in callers by user and everyone else by address.
func callerKey(c echo.Context) (string, error) {
	if uid, ok := c.Get("user_id").(string); ok && uid != "" {
		return "user:" + uid, nil
	}
	return "ip:" + c.RealIP(), nil
}

// RateLimit returns a rate limiting middleware. It must run after the
// identity and role are known.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	roleOf := cfg.Role
	if roleOf == nil {
		roleOf = func(echo.Context) string { return "" }
	}

	standard := classLimiter(cfg.Default, cfg.ExpiresIn, IsBulkRequest)

	bulk := make(map[string]echo.MiddlewareFunc, len(cfg.Bulk))
	for role, class := range cfg.Bulk {
		bulk[role] = classLimiter(class, cfg.ExpiresIn, func(c echo.Context) bool {
			return !IsBulkRequest(c) || bulkRole(cfg.Bulk, roleOf(c)) != role
		})
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		h := standard(next)
		for _, mw := range bulk {
			h = mw(h)
		}
		return h
	}
}

// bulkRole maps a role to the Bulk entry that governs it.
func bulkRole(classes map[string]RateClass, role string) string {
	if _, ok := classes[role]; ok {
		return role
	}
	return ""
}

func classLimiter(class RateClass, expiresIn time.Duration, skip echomw.Skipper) echo.MiddlewareFunc {
	limit := strconv.FormatFloat(class.RequestsPerSecond, 'f', -1, 64)
	retryAfter := "1"
	if class.RequestsPerSecond > 0 && class.RequestsPerSecond < 1 {
		retryAfter = strconv.Itoa(int(math.Ceil(1 / class.RequestsPerSecond)))
	}

	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(class.RequestsPerSecond),
		Burst:     class.BurstSize,
		ExpiresIn: expiresIn,
	})

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Skipper:             skip,
		Store:               store,
		IdentifierExtractor: callerKey,
		BeforeFunc: func(c echo.Context) {
			c.Response().Header().Set("X-RateLimit-Limit", limit)
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			c.Response().Header().Set("Retry-After", retryAfter)
			c.Response().Header().Set("X-RateLimit-Remaining", "0")
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}
