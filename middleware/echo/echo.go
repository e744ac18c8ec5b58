// Package echo mounts the fulfillment endpoints on an Echo router and
// provides Echo-native per-client rate limiting.
package echo

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/labstack/echo/v4"

	mw "github.com/mihaimyh/gofulfill/middleware/http"
	"github.com/mihaimyh/gofulfill/pkg/api"
)

// Router is satisfied by *echo.Echo and *echo.Group.
type Router interface {
	Add(method, path string, handler echo.HandlerFunc, middleware ...echo.MiddlewareFunc) *echo.Route
}

// KeyExtractor extracts the rate limit key from an Echo context.
// Return empty string to skip limiting for the request.
type KeyExtractor func(c echo.Context) string

// Config holds adapter configuration
type Config struct {
	// Handler serves the endpoints (required)
	Handler *api.Handler

	// Prefix is prepended to every route. Optional.
	Prefix string

	// RateLimiter, when set, limits every mounted route.
	RateLimiter *mw.RateLimiter

	// GetKey extracts the rate limit key.
	// Default: c.RealIP()
	GetKey KeyExtractor

	// OnRateLimitExceeded writes the limited response.
	// If nil, uses default response: 429 JSON
	OnRateLimitExceeded func(c echo.Context, retryAfter time.Duration) error
}

// Register mounts every endpoint of cfg.Handler on r.
func Register(r Router, cfg Config) error {
	if cfg.Handler == nil {
		return errors.New("echo: handler is required")
	}
	var chain []echo.MiddlewareFunc
	if cfg.RateLimiter != nil {
		chain = append(chain, RateLimit(cfg.RateLimiter, cfg.GetKey, cfg.OnRateLimitExceeded))
	}
	for _, ep := range cfg.Handler.Endpoints() {
		r.Add(ep.Method, path.Join("/", cfg.Prefix, ep.Path), echo.WrapHandler(ep.Handler), chain...)
	}
	return nil
}

// RateLimit returns Echo middleware that admits at most the limiter's
// budget per key.
func RateLimit(rl *mw.RateLimiter, getKey KeyExtractor, onExceeded func(echo.Context, time.Duration) error) echo.MiddlewareFunc {
	if getKey == nil {
		getKey = FromRealIP()
	}
	if onExceeded == nil {
		onExceeded = defaultRateLimitExceeded
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := getKey(c)
			if key == "" {
				return next(c)
			}
			if ok, retryAfter := rl.Allow(key); !ok {
				c.Response().Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				return onExceeded(c, retryAfter)
			}
			return next(c)
		}
	}
}

func defaultRateLimitExceeded(c echo.Context, retryAfter time.Duration) error {
	return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
		"error":       map[string]string{"code": "RATE_LIMITED", "message": "rate limit exceeded"},
		"retry_after": retryAfter.Seconds(),
	})
}

// FromRealIP returns a KeyExtractor using Echo's client IP resolution.
func FromRealIP() KeyExtractor {
	return func(c echo.Context) string {
		return c.RealIP()
	}
}

// FromHeader returns a KeyExtractor that reads a header
func FromHeader(headerName string) KeyExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}
