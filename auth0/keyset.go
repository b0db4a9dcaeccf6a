package auth0

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/apexmotive/dashboard-backend/internal/observability"
)

// DefaultCacheTTL is how long a fetched key set stays fresh. One hour, fixed
// by design; only tests construct caches with a different value.
const DefaultCacheTTL = 1 * time.Hour

// JWKS represents the JSON Web Key Set document served by the tenant
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a single JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeySetConfig holds configuration for the KeySetCache
type KeySetConfig struct {
	// URL is the JWKS endpoint, e.g. https://tenant.auth0.com/.well-known/jwks.json
	URL string

	// CacheTTL defaults to DefaultCacheTTL when zero
	CacheTTL time.Duration

	// HTTPTimeout bounds the key set fetch; defaults to 10s
	HTTPTimeout time.Duration

	// HTTPClient overrides the default client when set
	HTTPClient *http.Client
}

// KeySetCache serves RSA verification keys by key ID, fetching the tenant's
// key set at most once per miss and caching it for CacheTTL. Reads are
// concurrent; a refresh replaces the key map atomically, and concurrent
// misses coalesce into a single in-flight fetch.
type KeySetCache struct {
	jwksURL    string
	ttl        time.Duration
	httpClient *http.Client
	logger     *zap.Logger

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
	lastKnown map[string]*rsa.PublicKey // previous successful fetches, served when a refresh fails

	group singleflight.Group

	hits        atomic.Uint64
	misses      atomic.Uint64
	refreshes   atomic.Uint64
	staleServes atomic.Uint64
}

// NewKeySetCache creates a key set cache for the given JWKS endpoint.
func NewKeySetCache(config KeySetConfig, logger *zap.Logger) *KeySetCache {
	if config.CacheTTL == 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = 10 * time.Second
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.HTTPTimeout}
	}

	return &KeySetCache{
		jwksURL:    config.URL,
		ttl:        config.CacheTTL,
		httpClient: httpClient,
		logger:     logger,
		keys:       make(map[string]*rsa.PublicKey),
		lastKnown:  make(map[string]*rsa.PublicKey),
	}
}

// Key returns the verification key for the given key ID. A miss (unknown kid
// or expired set) triggers at most one refresh before the lookup fails with
// ErrKeyNotFound. A failed refresh falls back to the last successfully
// fetched set when it still holds the key, otherwise ErrKeySetUnavailable.
func (c *KeySetCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	fetchedAt := c.fetchedAt
	if time.Since(fetchedAt) < c.ttl {
		if key, ok := c.keys[kid]; ok {
			c.mu.RUnlock()
			c.hits.Add(1)
			observability.RecordKeysetHit()
			return key, nil
		}
	}
	c.mu.RUnlock()

	c.misses.Add(1)
	observability.RecordKeysetMiss()

	// Coalesce concurrent misses into a single fetch. A caller that waited
	// on another request's refresh skips its own.
	_, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		c.mu.RLock()
		refreshed := c.fetchedAt.After(fetchedAt)
		c.mu.RUnlock()
		if refreshed {
			return nil, nil
		}
		return nil, c.refresh(ctx)
	})
	if err != nil {
		c.mu.RLock()
		key, ok := c.lastKnown[kid]
		c.mu.RUnlock()
		if ok {
			c.staleServes.Add(1)
			observability.RecordKeysetStaleServe()
			c.logger.Warn("key set refresh failed, serving stale key",
				zap.String("kid", kid),
				zap.Error(err))
			return key, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}

	c.mu.RLock()
	key, ok := c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: kid %s", ErrKeyNotFound, kid)
	}

	return key, nil
}

// refresh fetches the full key set and replaces the cache atomically.
func (c *KeySetCache) refresh(ctx context.Context) error {
	c.refreshes.Add(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, nil)
	if err != nil {
		observability.RecordKeysetRefresh(false)
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.RecordKeysetRefresh(false)
		return fmt.Errorf("failed to fetch key set: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		observability.RecordKeysetRefresh(false)
		return fmt.Errorf("key set fetch returned status %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		observability.RecordKeysetRefresh(false)
		return fmt.Errorf("failed to decode key set: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for i := range jwks.Keys {
		jwk := &jwks.Keys[i]
		if jwk.Kty != "RSA" {
			continue
		}

		publicKey, err := jwkToRSAPublicKey(jwk)
		if err != nil {
			c.logger.Warn("skipping unparseable key in key set",
				zap.String("kid", jwk.Kid),
				zap.Error(err))
			continue
		}

		keys[jwk.Kid] = publicKey
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	for kid, key := range keys {
		c.lastKnown[kid] = key
	}
	c.mu.Unlock()

	observability.RecordKeysetRefresh(true)
	c.logger.Debug("key set refreshed", zap.Int("keys", len(keys)))

	return nil
}

// jwkToRSAPublicKey converts a JWK to an RSA public key
func jwkToRSAPublicKey(jwk *JWK) (*rsa.PublicKey, error) {
	if jwk.N == "" || jwk.E == "" {
		return nil, fmt.Errorf("key %s missing modulus or exponent", jwk.Kid)
	}

	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)

	var e int
	for _, b := range eBytes {
		e = e*256 + int(b)
	}

	return &rsa.PublicKey{N: n, E: e}, nil
}

// InvalidateCache drops the cached key set, forcing a refresh on the next
// lookup. The stale-fallback set is kept.
func (c *KeySetCache) InvalidateCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = make(map[string]*rsa.PublicKey)
	c.fetchedAt = time.Time{}
}

// CacheStats is a point-in-time snapshot of cache behavior.
type CacheStats struct {
	Hits        uint64    `json:"hits"`
	Misses      uint64    `json:"misses"`
	Refreshes   uint64    `json:"refreshes"`
	StaleServes uint64    `json:"stale_serves"`
	CachedKeys  int       `json:"cached_keys"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// GetCacheStats returns cache statistics.
func (c *KeySetCache) GetCacheStats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CacheStats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Refreshes:   c.refreshes.Load(),
		StaleServes: c.staleServes.Load(),
		CachedKeys:  len(c.keys),
		FetchedAt:   c.fetchedAt,
	}
}
