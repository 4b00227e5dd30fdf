package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"go.uber.org/zap"
)

const (
	jwksFetchTimeout = 10 * time.Second
	jwksMinRefresh   = time.Minute
)

// KeySet serves the identity provider's public signing keys. Keys are
// fetched lazily and refetched when a token names an unknown kid, at most
// once per jwksMinRefresh.
type KeySet struct {
	url    string
	client *http.Client

	mu      sync.RWMutex
	keys    jose.JSONWebKeySet
	fetched time.Time
	now     func() time.Time
}

func NewKeySet(url string) *KeySet {
	return &KeySet{
		url:    url,
		client: &http.Client{Timeout: jwksFetchTimeout},
		now:    time.Now,
	}
}

// Refresh replaces the cached keys with the current document.
func (k *KeySet) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, jwksFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return err
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	k.mu.Lock()
	k.keys = set
	k.fetched = k.now()
	k.mu.Unlock()

	zap.L().Info("jwks refreshed", zap.String("url", k.url), zap.Int("keys", len(set.Keys)))
	return nil
}

func (k *KeySet) lookup(kid string) (jose.JSONWebKey, bool, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	stale := k.fetched.IsZero() || k.now().Sub(k.fetched) >= jwksMinRefresh
	for _, key := range k.keys.Key(kid) {
		if key.Use == "" || key.Use == "sig" {
			return key, true, stale
		}
	}
	return jose.JSONWebKey{}, false, stale
}

// PublicKey returns the verification key for kid.
func (k *KeySet) PublicKey(ctx context.Context, kid string) (any, error) {
	key, ok, stale := k.lookup(kid)
	if !ok && stale {
		if err := k.Refresh(ctx); err != nil {
			return nil, err
		}
		key, ok, _ = k.lookup(kid)
	}
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	if !key.Valid() {
		return nil, fmt.Errorf("invalid signing key %q", kid)
	}
	return key.Public().Key, nil
}
