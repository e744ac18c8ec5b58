package credentials

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gofulfill/pkg/fulfill"
)

const testEmail = "svc@demo-project.iam.gserviceaccount.com"

func testKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return key, string(pem.EncodeToMemory(block))
}

type tokenServer struct {
	*httptest.Server
	calls  atomic.Int32
	claims atomic.Value
}

func newTokenServer(t *testing.T, pub *rsa.PublicKey, status int) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.PostForm.Get("grant_type"))

		claims := jwt.MapClaims{}
		parser := &jwt.Parser{SkipClaimsValidation: true}
		_, err := parser.ParseWithClaims(r.PostForm.Get("assertion"), claims, func(tok *jwt.Token) (interface{}, error) {
			assert.Equal(t, "RS256", tok.Method.Alg())
			return pub, nil
		})
		assert.NoError(t, err)
		ts.claims.Store(claims)

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + string(rune('0'+ts.calls.Load())),
			"expires_in":   3600,
			"token_type":   "Bearer",
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestManager_AssertionClaims(t *testing.T) {
	key, pemKey := testKey(t)
	srv := newTokenServer(t, &key.PublicKey, http.StatusOK)
	now := time.Now().Truncate(time.Second)

	m, err := NewManager(ServiceAccount{ProjectID: "demo-project", ClientEmail: testEmail, PrivateKey: pemKey},
		NewTokenCache(), WithTokenURL(srv.URL), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	tok, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	claims := srv.claims.Load().(jwt.MapClaims)
	assert.Equal(t, testEmail, claims["iss"])
	assert.Equal(t, DatastoreScope, claims["scope"])
	assert.Equal(t, srv.URL, claims["aud"])
	assert.Equal(t, float64(now.Unix()), claims["iat"])
	assert.Equal(t, float64(now.Add(time.Hour).Unix()), claims["exp"])
}

func TestManager_ReusesTokenUntilMargin(t *testing.T) {
	key, pemKey := testKey(t)
	srv := newTokenServer(t, &key.PublicKey, http.StatusOK)
	now := time.Now()
	clock := func() time.Time { return now }

	m, err := NewManager(ServiceAccount{ProjectID: "demo-project", ClientEmail: testEmail, PrivateKey: pemKey},
		NewTokenCache(), WithTokenURL(srv.URL), WithClock(clock))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := m.AccessToken(ctx)
	require.NoError(t, err)

	now = now.Add(58 * time.Minute)
	second, err := m.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), srv.calls.Load())

	now = now.Add(90 * time.Second) // 30s of validity left
	third, err := m.AccessToken(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.Equal(t, int32(2), srv.calls.Load())
}

func TestManager_SharedCacheAcrossManagers(t *testing.T) {
	key, pemKey := testKey(t)
	srv := newTokenServer(t, &key.PublicKey, http.StatusOK)
	cache := NewTokenCache()
	account := ServiceAccount{ProjectID: "demo-project", ClientEmail: testEmail, PrivateKey: pemKey}

	a, err := NewManager(account, cache, WithTokenURL(srv.URL))
	require.NoError(t, err)
	b, err := NewManager(account, cache, WithTokenURL(srv.URL))
	require.NoError(t, err)

	_, err = a.AccessToken(context.Background())
	require.NoError(t, err)
	_, err = b.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.calls.Load())
}

func TestManager_InvalidateForcesMint(t *testing.T) {
	key, pemKey := testKey(t)
	srv := newTokenServer(t, &key.PublicKey, http.StatusOK)
	m, err := NewManager(ServiceAccount{ProjectID: "demo-project", ClientEmail: testEmail, PrivateKey: pemKey},
		nil, WithTokenURL(srv.URL))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := m.AccessToken(ctx)
	require.NoError(t, err)
	m.Invalidate()
	second, err := m.AccessToken(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, int32(2), srv.calls.Load())
}

func TestManager_EndpointRejection(t *testing.T) {
	key, pemKey := testKey(t)
	srv := newTokenServer(t, &key.PublicKey, http.StatusBadRequest)

	m, err := NewManager(ServiceAccount{ProjectID: "p", ClientEmail: testEmail, PrivateKey: pemKey},
		nil, WithTokenURL(srv.URL))
	require.NoError(t, err)

	_, err = m.AccessToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fulfill.ErrCredentials)
	assert.Equal(t, fulfill.KindAuthentication, fulfill.KindOf(err))
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestNewManager_MalformedKey(t *testing.T) {
	_, err := NewManager(ServiceAccount{ProjectID: "p", ClientEmail: testEmail, PrivateKey: "not a key"}, nil)
	assert.ErrorIs(t, err, fulfill.ErrCredentials)

	_, err = NewManager(ServiceAccount{ProjectID: "p"}, nil)
	assert.ErrorIs(t, err, fulfill.ErrCredentials)
}

func TestParsePrivateKey_EscapedNewlinesAndPKCS8(t *testing.T) {
	key, pemKey := testKey(t)

	escaped := strings.ReplaceAll(pemKey, "\n", `\n`)
	parsed, err := ParsePrivateKey(escaped)
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pkcs8 := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	parsed, err = ParsePrivateKey(pkcs8)
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))
}

func TestTokenCache_Validity(t *testing.T) {
	cache := NewTokenCache()
	now := time.Now()

	cache.Put("p", "e", Token{AccessToken: "a", Expiry: now.Add(61 * time.Second)})
	_, ok := cache.Get("p", "e", now)
	assert.True(t, ok)
	_, ok = cache.Get("p", "e", now.Add(time.Second))
	assert.False(t, ok, "exactly 60s left must refresh")
	_, ok = cache.Get("p", "other", now)
	assert.False(t, ok)

	cache.Invalidate("p", "e")
	_, ok = cache.Get("p", "e", now)
	assert.False(t, ok)
}

func TestStaticToken(t *testing.T) {
	tok, err := StaticToken("owner").AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "owner", tok)
}
