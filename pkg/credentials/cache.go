package credentials

import (
	"sync"
	"time"
)

// RefreshMargin is how much validity a cached token must still have to be reused.
const RefreshMargin = 60 * time.Second

// Token is a minted bearer token.
type Token struct {
	AccessToken string
	Expiry      time.Time
}

// Valid reports whether the token can still be handed out at now.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && t.Expiry.Sub(now) > RefreshMargin
}

type cacheKey struct {
	project string
	email   string
}

// TokenCache holds tokens keyed by project and service account. It is safe
// for concurrent use; it does not coordinate refreshes.
type TokenCache struct {
	mu     sync.RWMutex
	tokens map[cacheKey]Token
}

// NewTokenCache creates an empty cache.
func NewTokenCache() *TokenCache {
	return &TokenCache{tokens: make(map[cacheKey]Token)}
}

// Get returns the cached token if it is still valid at now.
func (c *TokenCache) Get(project, email string, now time.Time) (Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tok, ok := c.tokens[cacheKey{project, email}]
	if !ok || !tok.Valid(now) {
		return Token{}, false
	}
	return tok, true
}

// Put stores tok, replacing any previous token for the same account.
func (c *TokenCache) Put(project, email string, tok Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[cacheKey{project, email}] = tok
}

// Invalidate drops the token for the account.
func (c *TokenCache) Invalidate(project, email string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, cacheKey{project, email})
}
