// Package credentials mints OAuth2 bearer tokens for a service account by
// signing a JWT assertion and exchanging it at the token endpoint.
package credentials

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/mihaimyh/gofulfill/pkg/fulfill"
)

const (
	// DefaultTokenURL is the OAuth2 token endpoint for service accounts.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
	// DatastoreScope grants read/write access to the document store.
	DatastoreScope = "https://www.googleapis.com/auth/datastore"

	assertionLifetime = time.Hour
	jwtBearerGrant    = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	maxErrorBody      = 512
)

// TokenSource yields bearer tokens for outbound requests.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token, used against local emulators.
type StaticToken string

// AccessToken implements TokenSource.
func (s StaticToken) AccessToken(context.Context) (string, error) {
	return string(s), nil
}

// ServiceAccount identifies the account tokens are minted for.
type ServiceAccount struct {
	ProjectID   string
	ClientEmail string
	PrivateKey  string // PEM, PKCS#1 or PKCS#8; literal "\n" sequences are accepted
}

// Enabled reports whether all three service account fields are present.
func (a ServiceAccount) Enabled() bool {
	return a.ProjectID != "" && a.ClientEmail != "" && a.PrivateKey != ""
}

// Manager mints and caches access tokens for one service account.
type Manager struct {
	account  ServiceAccount
	key      *rsa.PrivateKey
	cache    *TokenCache
	client   *http.Client
	tokenURL string
	scope    string
	now      func() time.Time
	logger   fulfill.Logger
	metrics  fulfill.Metrics
}

var _ TokenSource = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used for the token exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		if c != nil {
			m.client = c
		}
	}
}

// WithTokenURL overrides the token endpoint.
func WithTokenURL(u string) Option {
	return func(m *Manager) {
		if u != "" {
			m.tokenURL = u
		}
	}
}

// WithScope overrides the requested scope.
func WithScope(scope string) Option {
	return func(m *Manager) {
		if scope != "" {
			m.scope = scope
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l fulfill.Logger) Option {
	return func(m *Manager) { m.logger = fulfill.OrNoop(l) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt fulfill.Metrics) Option {
	return func(m *Manager) { m.metrics = fulfill.MetricsOrNoop(mt) }
}

// NewManager parses the account's private key and returns a Manager that
// shares cache with any other Manager given the same cache. A malformed key
// is reported as fulfill.ErrCredentials.
func NewManager(account ServiceAccount, cache *TokenCache, opts ...Option) (*Manager, error) {
	if !account.Enabled() {
		return nil, fulfill.Wrap(fulfill.ErrCredentials, "service account is incomplete")
	}
	key, err := ParsePrivateKey(account.PrivateKey)
	if err != nil {
		return nil, err
	}
	if cache == nil {
		cache = NewTokenCache()
	}

	m := &Manager{
		account:  account,
		key:      key,
		cache:    cache,
		client:   &http.Client{Timeout: 10 * time.Second},
		tokenURL: DefaultTokenURL,
		scope:    DatastoreScope,
		now:      time.Now,
		logger:   &fulfill.NoopLogger{},
		metrics:  &fulfill.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ParsePrivateKey parses a PEM encoded RSA key, expanding escaped newlines
// the way they usually arrive through environment variables.
func ParsePrivateKey(pemKey string) (*rsa.PrivateKey, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(pemKey), `\n`, "\n")
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(normalized))
	if err != nil {
		return nil, fulfill.Wrap(fulfill.ErrCredentials, "parse private key: %v", err)
	}
	return key, nil
}

// ProjectID returns the project the account belongs to.
func (m *Manager) ProjectID() string {
	return m.account.ProjectID
}

// AccessToken returns a cached token while it has more than a minute of
// validity left, otherwise mints a new one. Concurrent callers may mint in
// parallel; the last writer wins the cache slot.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	now := m.now()
	if tok, ok := m.cache.Get(m.account.ProjectID, m.account.ClientEmail, now); ok {
		return tok.AccessToken, nil
	}

	tok, err := m.mint(ctx, now)
	if err != nil {
		m.metrics.RecordTokenMint("error")
		m.logger.Error("Access token mint failed",
			fulfill.F("client_email", m.account.ClientEmail),
			fulfill.F("error", err),
		)
		return "", err
	}

	m.metrics.RecordTokenMint("success")
	m.logger.Debug("Access token minted",
		fulfill.F("client_email", m.account.ClientEmail),
		fulfill.F("expires_at", tok.Expiry),
	)
	m.cache.Put(m.account.ProjectID, m.account.ClientEmail, tok)
	return tok.AccessToken, nil
}

// Invalidate drops the cached token so the next call mints a fresh one.
func (m *Manager) Invalidate() {
	m.cache.Invalidate(m.account.ProjectID, m.account.ClientEmail)
}

// Assertion builds the signed JWT assertion for the exchange.
func (m *Manager) Assertion(issuedAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":   m.account.ClientEmail,
		"scope": m.scope,
		"aud":   m.tokenURL,
		"iat":   issuedAt.Unix(),
		"exp":   issuedAt.Add(assertionLifetime).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.key)
	if err != nil {
		return "", fulfill.Wrap(fulfill.ErrCredentials, "sign assertion: %v", err)
	}
	return signed, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (m *Manager) mint(ctx context.Context, now time.Time) (Token, error) {
	assertion, err := m.Assertion(now)
	if err != nil {
		return Token{}, err
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return Token{}, fulfill.Upstream("token exchange", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Token{}, fulfill.Upstream("read token response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Token{}, fulfill.Wrap(fulfill.ErrCredentials, "token endpoint returned %d: %s",
			resp.StatusCode, truncate(body, maxErrorBody))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, fulfill.Wrap(fulfill.ErrCredentials, "decode token response: %v", err)
	}
	if tr.AccessToken == "" {
		return Token{}, fulfill.Wrap(fulfill.ErrCredentials, "token response has no access_token")
	}
	if tr.ExpiresIn <= 0 {
		tr.ExpiresIn = int64(assertionLifetime / time.Second)
	}
	return Token{
		AccessToken: tr.AccessToken,
		Expiry:      now.Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
