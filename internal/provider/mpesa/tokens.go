package mpesa

import (
	"context"
	"sync"
	"time"
)

// TokenCache stores Daraja access tokens until shortly before they expire.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, token string, ttl time.Duration) error
}

type accessToken struct {
	Token     string
	ExpiresAt time.Time
}

type memoryTokenCache struct {
	mu     sync.Mutex
	tokens map[string]accessToken
}

// NewMemoryTokenCache keeps tokens in process; each replica fetches its own.
func NewMemoryTokenCache() TokenCache {
	return &memoryTokenCache{tokens: make(map[string]accessToken)}
}

func (c *memoryTokenCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[key]
	if !ok || !time.Now().Before(t.ExpiresAt) {
		delete(c.tokens, key)
		return "", false, nil
	}
	return t.Token, true, nil
}

func (c *memoryTokenCache) Set(_ context.Context, key, token string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[key] = accessToken{Token: token, ExpiresAt: time.Now().Add(ttl)}
	return nil
}
