// Package fiber mounts the fulfillment endpoints on a Fiber app and
// provides Fiber-native per-client rate limiting.
package fiber

import (
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	mw "github.com/mihaimyh/gofulfill/middleware/http"
	"github.com/mihaimyh/gofulfill/pkg/api"
)

// KeyExtractor extracts the rate limit key from a Fiber context.
// Return empty string to skip limiting for the request.
type KeyExtractor func(c *fiber.Ctx) string

// Config holds adapter configuration
type Config struct {
	// Handler serves the endpoints (required)
	Handler *api.Handler

	// Prefix is prepended to every route. Optional.
	Prefix string

	// RateLimiter, when set, limits every mounted route.
	RateLimiter *mw.RateLimiter

	// GetKey extracts the rate limit key.
	// Default: c.IP()
	GetKey KeyExtractor

	// OnRateLimitExceeded writes the limited response.
	// If nil, uses default response: 429 JSON
	OnRateLimitExceeded func(c *fiber.Ctx, retryAfter time.Duration) error
}

// Register mounts every endpoint of cfg.Handler on r. The endpoints are
// net/http handlers bridged through Fiber's adaptor.
func Register(r fiber.Router, cfg Config) error {
	if cfg.Handler == nil {
		return errors.New("fiber: handler is required")
	}
	var chain []fiber.Handler
	if cfg.RateLimiter != nil {
		chain = append(chain, RateLimit(cfg.RateLimiter, cfg.GetKey, cfg.OnRateLimitExceeded))
	}
	for _, ep := range cfg.Handler.Endpoints() {
		handlers := append(append([]fiber.Handler{}, chain...), adaptor.HTTPHandler(ep.Handler))
		r.Add(ep.Method, path.Join("/", cfg.Prefix, ep.Path), handlers...)
	}
	return nil
}

// RateLimit returns Fiber middleware that admits at most the limiter's
// budget per key.
func RateLimit(rl *mw.RateLimiter, getKey KeyExtractor, onExceeded func(*fiber.Ctx, time.Duration) error) fiber.Handler {
	if getKey == nil {
		getKey = FromIP()
	}
	if onExceeded == nil {
		onExceeded = defaultRateLimitExceeded
	}
	return func(c *fiber.Ctx) error {
		key := getKey(c)
		if key == "" {
			return c.Next()
		}
		if ok, retryAfter := rl.Allow(key); !ok {
			c.Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
			return onExceeded(c, retryAfter)
		}
		return c.Next()
	}
}

func defaultRateLimitExceeded(c *fiber.Ctx, retryAfter time.Duration) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error":       fiber.Map{"code": "RATE_LIMITED", "message": "rate limit exceeded"},
		"retry_after": retryAfter.Seconds(),
	})
}

// FromIP returns a KeyExtractor using Fiber's client IP.
func FromIP() KeyExtractor {
	return func(c *fiber.Ctx) string {
		return c.IP()
	}
}

// FromHeader returns a KeyExtractor that reads a header
func FromHeader(headerName string) KeyExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromLocals returns a KeyExtractor that reads a string set by earlier
// middleware via c.Locals.
func FromLocals(key string) KeyExtractor {
	return func(c *fiber.Ctx) string {
		if str, ok := c.Locals(key).(string); ok {
			return str
		}
		return ""
	}
}
