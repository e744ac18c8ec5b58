// Package mux mounts the fulfillment endpoints on a gorilla/mux router.
package mux

import (
	"errors"
	"path"

	"github.com/gorilla/mux"

	mw "github.com/mihaimyh/gofulfill/middleware/http"
	"github.com/mihaimyh/gofulfill/pkg/api"
)

// Config holds adapter configuration
type Config struct {
	// Handler serves the endpoints (required)
	Handler *api.Handler

	// Prefix mounts the endpoints on a subrouter. Optional.
	Prefix string

	// RateLimiter, when set, limits every mounted route per client IP.
	RateLimiter *mw.RateLimiter
}

// Register mounts every endpoint of cfg.Handler on r and returns the router
// the routes were added to.
func Register(r *mux.Router, cfg Config) (*mux.Router, error) {
	if cfg.Handler == nil {
		return nil, errors.New("mux: handler is required")
	}
	sub := r
	if p := path.Join("/", cfg.Prefix); p != "/" {
		sub = r.PathPrefix(p).Subrouter()
	}
	if cfg.RateLimiter != nil {
		sub.Use(cfg.RateLimiter.Middleware)
	}
	for _, ep := range cfg.Handler.Endpoints() {
		sub.Handle(ep.Path, ep.Handler).Methods(ep.Method)
	}
	return sub, nil
}
