package echo

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	mw "github.com/mihaimyh/gofulfill/middleware/http"
	"github.com/mihaimyh/gofulfill/pkg/api/apitest"
)

func TestRegister_MountsEndpoints(t *testing.T) {
	f := apitest.New(t)
	e := echo.New()
	if err := Register(e.Group("/v1"), Config{Handler: f.Handler}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/health", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/checkout?productId=app-monthly&uid=u1", http.NoBody)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusSeeOther {
		t.Errorf("Expected status 303, got %d: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, "https://checkout.example.com/") {
		t.Errorf("Unexpected redirect location %q", loc)
	}
}

func TestRegister_WebhookRejectsBadSignature(t *testing.T) {
	f := apitest.New(t)
	e := echo.New()
	if err := Register(e, Config{Handler: f.Handler}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestRegister_RequiresHandler(t *testing.T) {
	if err := Register(echo.New(), Config{}); err == nil {
		t.Error("Expected error for missing handler")
	}
}

func TestRateLimit(t *testing.T) {
	f := apitest.New(t)
	e := echo.New()
	err := Register(e, Config{
		Handler:     f.Handler,
		RateLimiter: mw.NewRateLimiter(1, time.Hour),
		GetKey:      FromHeader("X-Client"),
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
		req.Header.Set("X-Client", "a")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}
}
