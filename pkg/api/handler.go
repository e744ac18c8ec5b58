// Package api exposes the fulfillment pipeline over HTTP: checkout, billing
// portal, downloads, the payment webhook, health and metrics.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	mw "github.com/mihaimyh/gofulfill/middleware/http"
	"github.com/mihaimyh/gofulfill/pkg/billing"
	"github.com/mihaimyh/gofulfill/pkg/cart"
	"github.com/mihaimyh/gofulfill/pkg/checkout"
	"github.com/mihaimyh/gofulfill/pkg/docstore"
	"github.com/mihaimyh/gofulfill/pkg/downloads"
	"github.com/mihaimyh/gofulfill/pkg/fulfill"
	"github.com/mihaimyh/gofulfill/pkg/webhook"
)

// Error codes produced by the handler itself.
const (
	codeStoreNotConfigured = "STORE_NOT_CONFIGURED"
	codeNoCustomer         = "NO_CUSTOMER"
	codePaymentRequired    = "PAYMENT_REQUIRED"
	codePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	codeRateLimited        = "RATE_LIMITED"
	codeUnavailable        = "UNAVAILABLE"
	codeInternal           = "INTERNAL"
)

// Handler provides the fulfillment HTTP endpoints
type Handler struct {
	config   Config
	validate *validator.Validate
	logger   fulfill.Logger
	metrics  fulfill.Metrics

	checkoutLimiter *mw.RateLimiter
	webhookLimiter  *mw.RateLimiter
}

// NewHandler creates a new handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.RateLimitWindow <= 0 {
		config.RateLimitWindow = time.Minute
	}
	h := &Handler{
		config:   config,
		validate: validator.New(),
		logger:   fulfill.OrNoop(config.Logger),
		metrics:  fulfill.MetricsOrNoop(config.Metrics),
	}
	if config.CheckoutRateLimit > 0 {
		h.checkoutLimiter = mw.NewRateLimiter(config.CheckoutRateLimit, config.RateLimitWindow)
		h.checkoutLimiter.OnLimited = h.rateLimited
	}
	if config.WebhookRateLimit > 0 {
		h.webhookLimiter = mw.NewRateLimiter(config.WebhookRateLimit, config.RateLimitWindow)
	}
	return h, nil
}

// Endpoint is one route of the handler with its middleware applied.
type Endpoint struct {
	Method  string
	Path    string
	Handler http.Handler
}

// Endpoints lists every route, for mounting on other routers.
func (h *Handler) Endpoints() []Endpoint {
	eps := []Endpoint{
		{http.MethodGet, "/checkout", h.checkoutLimiter.Middleware(http.HandlerFunc(h.CheckoutRedirect))},
		{http.MethodPost, "/checkout", h.checkoutLimiter.Middleware(http.HandlerFunc(h.Checkout))},
		{http.MethodPost, "/portal", http.HandlerFunc(h.Portal)},
		{http.MethodGet, "/downloads", http.HandlerFunc(h.Downloads)},
		{http.MethodPost, "/webhook", h.webhookLimiter.Middleware(http.HandlerFunc(h.Webhook))},
		{http.MethodGet, "/health", http.HandlerFunc(h.Health)},
	}
	if h.config.MetricsHandler != nil {
		eps = append(eps, Endpoint{http.MethodGet, "/metrics", h.config.MetricsHandler})
	}
	return eps
}

// Routes returns a chi router serving every endpoint.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	for _, ep := range h.Endpoints() {
		r.Method(ep.Method, ep.Path, ep.Handler)
	}
	return r
}

// CheckoutRedirect handles GET /checkout by redirecting to the hosted page.
func (h *Handler) CheckoutRedirect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := CheckoutRequest{
		ProductID: q.Get("productId"),
		UID:       q.Get("uid"),
		Email:     q.Get("email"),
		Level:     q.Get("level"),
	}
	url, err := h.createSession(r, req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}

// Checkout handles POST /checkout.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := h.decode(w, r, MaxCheckoutBody, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	url, err := h.createSession(r, req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, URLResponse{URL: url})
}

func (h *Handler) createSession(r *http.Request, req CheckoutRequest) (string, error) {
	req.Email = strings.TrimSpace(req.Email)
	if err := h.validate.Struct(req); err != nil {
		return "", fulfill.Wrap(fulfill.ErrInvalidRequest, "%v", err)
	}

	var (
		session *billing.Session
		err     error
	)
	if len(req.Items) > 0 {
		session, err = h.config.Checkout.Cart(r.Context(), checkout.CartRequest{
			Items: req.Items,
			UID:   req.UID,
			Email: req.Email,
		})
	} else {
		session, err = h.config.Checkout.Single(r.Context(), checkout.SingleRequest{
			ProductID: req.ProductID,
			UID:       req.UID,
			Email:     req.Email,
			Tier:      req.Level,
		})
	}
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

// Portal handles POST /portal.
func (h *Handler) Portal(w http.ResponseWriter, r *http.Request) {
	if !h.config.Ledger.Enabled() {
		h.writeError(w, http.StatusServiceUnavailable, codeStoreNotConfigured, "document store not configured")
		return
	}

	var req PortalRequest
	if err := h.decode(w, r, MaxCheckoutBody, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.handleError(w, r, fulfill.Wrap(fulfill.ErrInvalidRequest, "%v", err))
		return
	}

	customerID, err := h.config.Ledger.CustomerID(r.Context(), req.UID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if customerID == "" {
		h.writeError(w, http.StatusNotFound, codeNoCustomer, "no billing customer linked to this user")
		return
	}

	url, err := h.config.Provider.CreatePortalSession(r.Context(), customerID, req.ReturnURL)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, URLResponse{URL: url})
}

// Downloads handles GET /downloads?session_id=.
func (h *Handler) Downloads(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		h.handleError(w, r, fulfill.Wrap(fulfill.ErrInvalidRequest, "session_id is required"))
		return
	}

	session, err := h.config.Provider.RetrieveCheckoutSession(r.Context(), sessionID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if !session.Paid() {
		h.writeError(w, http.StatusPaymentRequired, codePaymentRequired, "checkout session is not paid")
		return
	}

	items, err := webhook.Intent(session.Metadata)
	if err != nil {
		h.handleError(w, r, fulfill.Wrap(fulfill.ErrInvalidRequest, "%v", err))
		return
	}
	h.writeJSON(w, http.StatusOK, DownloadsResponse{Downloads: h.resolveDownloads(items)})
}

func (h *Handler) resolveDownloads(items []cart.Item) []downloads.Link {
	reqs := make([]downloads.Request, 0, len(items))
	for _, it := range items {
		p, err := h.config.Catalog.Get(it.ProductID)
		if err != nil {
			h.logger.Warn("Unknown product in paid session", fulfill.F("product_id", it.ProductID))
			continue
		}
		reqs = append(reqs, downloads.Request{Key: p.DownloadKey, Tier: it.Tier})
	}
	links := h.config.Downloads.ResolveAll(reqs)
	if links == nil {
		links = []downloads.Link{}
	}
	return links
}

// Webhook handles POST /webhook. Errors are answered in plain text so the
// payment processor's delivery log shows the message.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := mw.ReadBody(w, r, MaxWebhookBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, mw.ErrPayloadTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		http.Error(w, err.Error(), status)
		return
	}

	res := h.config.Webhook.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch res.State {
	case webhook.Applied:
		h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case webhook.Rejected:
		http.Error(w, errMessage(res.Err), http.StatusBadRequest)
	default:
		status := http.StatusInternalServerError
		if errors.Is(res.Err, billing.ErrWebhookNotConfigured) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, errMessage(res.Err), status)
	}
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	body, err := mw.ReadBody(w, r, limit)
	if err != nil {
		if errors.Is(err, mw.ErrPayloadTooLarge) {
			return err
		}
		return fulfill.Wrap(fulfill.ErrInvalidRequest, "%v", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fulfill.Wrap(fulfill.ErrInvalidRequest, "malformed JSON: %v", err)
	}
	return nil
}

// statusFor maps an error to its HTTP status and code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, mw.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, codePayloadTooLarge
	case errors.Is(err, fulfill.ErrProductNotFound):
		return http.StatusNotFound, fulfill.CodeOf(err)
	case errors.Is(err, fulfill.ErrCircuitOpen), errors.Is(err, docstore.ErrDisabled):
		return http.StatusServiceUnavailable, codeUnavailable
	}
	switch fulfill.KindOf(err) {
	case fulfill.KindConfiguration:
		return http.StatusBadRequest, fulfill.CodeOf(err)
	case fulfill.KindAuthentication:
		if errors.Is(err, fulfill.ErrCredentials) {
			return http.StatusInternalServerError, fulfill.CodeOf(err)
		}
		return http.StatusUnauthorized, fulfill.CodeOf(err)
	case fulfill.KindUpstream:
		return http.StatusBadGateway, fulfill.CodeOf(err)
	}
	return http.StatusInternalServerError, codeInternal
}

// handleError writes the JSON error envelope for err.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			fulfill.F("path", r.URL.Path),
			fulfill.F("request_id", middleware.GetReqID(r.Context())),
			fulfill.F("error", msg))
		if code == codeInternal {
			msg = "internal error"
		}
	}
	h.writeError(w, status, code, msg)
}

func (h *Handler) rateLimited(w http.ResponseWriter, _ *http.Request, _ time.Duration) {
	h.writeError(w, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string) {
	h.writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: msg}})
}

// writeJSON writes a JSON response with proper headers
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode response", fulfill.F("error", err.Error()))
	}
}

func errMessage(err error) string {
	if err == nil {
		return "error"
	}
	return err.Error()
}
