package gin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gongin "github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mw "github.com/mihaimyh/gofulfill/middleware/http"
	"github.com/mihaimyh/gofulfill/pkg/api/apitest"
)

func init() {
	gongin.SetMode(gongin.TestMode)
}

func TestRegister_MountsEndpoints(t *testing.T) {
	f := apitest.New(t)
	r := gongin.New()
	require.NoError(t, Register(r, Config{Handler: f.Handler, Prefix: "/api"}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(`{"productId":"app-monthly","uid":"u1"}`))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, f.Provider.Created, 1)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegister_RequiresHandler(t *testing.T) {
	assert.Error(t, Register(gongin.New(), Config{}))
}

func TestRateLimit(t *testing.T) {
	f := apitest.New(t)
	r := gongin.New()
	require.NoError(t, Register(r, Config{
		Handler:     f.Handler,
		RateLimiter: mw.NewRateLimiter(2, time.Hour),
		GetKey:      FromHeader("X-Client"),
	}))

	send := func(client string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Client", client)
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send("a").Code)
	assert.Equal(t, http.StatusOK, send("a").Code)
	w := send("a")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")

	assert.Equal(t, http.StatusOK, send("b").Code)
	// An empty key is not limited.
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, send("").Code)
	}
}

func TestFromContext(t *testing.T) {
	c, _ := gongin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, "", FromContext("UserID")(c))
	c.Set("UserID", "u1")
	assert.Equal(t, "u1", FromContext("UserID")(c))
	c.Set("UserID", 42)
	assert.Equal(t, "", FromContext("UserID")(c))
}
