package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// KeySource resolves identity-provider signing keys by key id. It is
// injectable so tests can substitute a fixed key set.
type KeySource interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
	Refresh(ctx context.Context) error
}

type keySet struct {
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

// JWKSCache caches the published key set of the identity provider. Reads are
// lock-free; a stale or missing key triggers a refresh. Concurrent refreshes
// are allowed to race: the overwrite is idempotent, so the worst case is a
// redundant fetch.
type JWKSCache struct {
	url        string
	httpClient *http.Client
	ttl        time.Duration

	set atomic.Pointer[keySet]
}

var _ KeySource = (*JWKSCache)(nil)

// NewJWKSCache creates a cache over the given JWKS endpoint.
func NewJWKSCache(url string, client *http.Client, ttl time.Duration) *JWKSCache {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	c := &JWKSCache{url: url, httpClient: client, ttl: ttl}
	c.set.Store(&keySet{keys: map[string]*rsa.PublicKey{}})
	return c
}

// Key returns the public key for kid, refreshing the cached set on a miss or
// after the TTL elapses.
func (c *JWKSCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	set := c.set.Load()
	if key, ok := set.keys[kid]; ok && time.Since(set.fetched) < c.ttl {
		return key, nil
	}

	if err := c.Refresh(ctx); err != nil {
		// Serve a stale key over failing outright when the provider is down.
		if key, ok := set.keys[kid]; ok {
			return key, nil
		}
		return nil, err
	}

	if key, ok := c.set.Load().keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("signing key not found: %s", kid)
}

// Refresh fetches the key set and replaces the cached copy.
func (c *JWKSCache) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch failed with status %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, key := range jwks.Keys {
		if key.Kty != "RSA" {
			continue
		}
		nBytes, err := base64URLDecode(key.N)
		if err != nil {
			continue
		}
		eBytes, err := base64URLDecode(key.E)
		if err != nil {
			continue
		}
		e := 0
		for _, b := range eBytes {
			e = e<<8 + int(b)
		}
		keys[key.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}
	}

	c.set.Store(&keySet{keys: keys, fetched: time.Now()})
	return nil
}

func base64URLDecode(s string) ([]byte, error) {
	switch len(s) % 4 {
	case 2:
		s += "=="
	case 3:
		s += "="
	}
	return base64.URLEncoding.DecodeString(s)
}
