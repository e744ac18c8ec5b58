// Package gin mounts the fulfillment endpoints on a Gin router and provides
// Gin-native per-client rate limiting.
package gin

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	gongin "github.com/gin-gonic/gin"

	mw "github.com/mihaimyh/gofulfill/middleware/http"
	"github.com/mihaimyh/gofulfill/pkg/api"
)

// KeyExtractor extracts the rate limit key from a Gin context.
// Return empty string to skip limiting for the request.
type KeyExtractor func(c *gongin.Context) string

// Config holds adapter configuration
type Config struct {
	// Handler serves the endpoints (required)
	Handler *api.Handler

	// Prefix is prepended to every route, e.g. "/api". Optional.
	Prefix string

	// RateLimiter, when set, limits every mounted route in addition to the
	// handler's own per-endpoint limits.
	RateLimiter *mw.RateLimiter

	// GetKey extracts the rate limit key.
	// Default: the client IP as seen by Gin
	GetKey KeyExtractor

	// OnRateLimitExceeded writes the limited response.
	// If nil, uses default response: 429 JSON with Retry-After header
	OnRateLimitExceeded func(c *gongin.Context, retryAfter time.Duration)
}

// Register mounts every endpoint of cfg.Handler on r.
func Register(r gongin.IRoutes, cfg Config) error {
	if cfg.Handler == nil {
		return errors.New("gin: handler is required")
	}
	var chain []gongin.HandlerFunc
	if cfg.RateLimiter != nil {
		chain = append(chain, RateLimit(cfg.RateLimiter, cfg.GetKey, cfg.OnRateLimitExceeded))
	}
	for _, ep := range cfg.Handler.Endpoints() {
		handlers := append(append([]gongin.HandlerFunc{}, chain...), gongin.WrapH(ep.Handler))
		r.Handle(ep.Method, path.Join("/", cfg.Prefix, ep.Path), handlers...)
	}
	return nil
}

// RateLimit returns Gin middleware that admits at most the limiter's budget
// per key.
func RateLimit(rl *mw.RateLimiter, getKey KeyExtractor, onExceeded func(*gongin.Context, time.Duration)) gongin.HandlerFunc {
	if getKey == nil {
		getKey = FromClientIP()
	}
	if onExceeded == nil {
		onExceeded = defaultRateLimitExceeded
	}
	return func(c *gongin.Context) {
		key := getKey(c)
		if key == "" {
			c.Next()
			return
		}
		ok, retryAfter := rl.Allow(key)
		if !ok {
			c.Header("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
			onExceeded(c, retryAfter)
			c.Abort()
			return
		}
		c.Next()
	}
}

func defaultRateLimitExceeded(c *gongin.Context, retryAfter time.Duration) {
	c.JSON(http.StatusTooManyRequests, gongin.H{
		"error":       gongin.H{"code": "RATE_LIMITED", "message": "rate limit exceeded"},
		"retry_after": retryAfter.Seconds(),
	})
}

// FromClientIP returns a KeyExtractor using Gin's client IP resolution.
func FromClientIP() KeyExtractor {
	return func(c *gongin.Context) string {
		return c.ClientIP()
	}
}

// FromHeader returns a KeyExtractor that reads a header
func FromHeader(headerName string) KeyExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromContext returns a KeyExtractor that reads a string value set by
// earlier middleware via c.Set.
func FromContext(key string) KeyExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}
