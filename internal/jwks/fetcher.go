// Package jwks retrieves and caches provider JSON Web Key Sets.
package jwks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Extra-Chill/extrachill-users/internal/jwk"
)

const (
	cachePrefix = "ec:jwks:"
	defaultTTL  = time.Hour
	minTTL      = 5 * time.Minute
	fetchLimit  = 1 << 20
)

// Cache is the transient key-value collaborator backing the fetcher.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Fetcher loads JWKS documents over HTTP with TTL caching. Fetch failures
// are returned to the caller for retry; nothing is retried internally.
type Fetcher struct {
	httpClient *http.Client
	cache      Cache
	logger     *zap.Logger
}

// NewFetcher constructs a Fetcher. A nil client gets a 10s timeout default.
func NewFetcher(client *http.Client, cache Cache, logger *zap.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Fetcher{httpClient: client, cache: cache, logger: logger}
}

var maxAgePattern = regexp.MustCompile(`(?i)max-age\s*=\s*(\d+)`)

// Fetch returns the provider's keys, consulting the cache first. The cache
// TTL comes from the response Cache-Control max-age, clamped below by five
// minutes and defaulting to an hour.
func (f *Fetcher) Fetch(ctx context.Context, jwksURL string) ([]jwk.Key, error) {
	cacheKey := buildCacheKey(jwksURL)

	if cached, err := f.cache.Get(ctx, cacheKey); err == nil && cached != nil {
		var keys []jwk.Key
		if err := json.Unmarshal(cached, &keys); err == nil {
			return keys, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchLimit))
	if err != nil {
		return nil, fmt.Errorf("read jwks body: %w", err)
	}

	var set jwk.Set
	if err := json.Unmarshal(body, &set); err != nil || set.Keys == nil {
		return nil, fmt.Errorf("invalid jwks response")
	}

	ttl := cacheTTL(resp.Header.Get("Cache-Control"))
	if encoded, err := json.Marshal(set.Keys); err == nil {
		if err := f.cache.Set(ctx, cacheKey, encoded, ttl); err != nil {
			f.logger.Warn("jwks cache write failed", zap.String("url", jwksURL), zap.Error(err))
		}
	}

	return set.Keys, nil
}

// FindKey selects the RSA key matching kid. With no kid, the first RSA key
// is returned as a best-effort fallback; major providers always send kid.
func FindKey(keys []jwk.Key, kid string) (jwk.Key, bool) {
	for _, key := range keys {
		if key.Kty != "RSA" {
			continue
		}
		if kid == "" || key.Kid == kid {
			return key, true
		}
	}
	return jwk.Key{}, false
}

func cacheTTL(cacheControl string) time.Duration {
	ttl := defaultTTL
	if m := maxAgePattern.FindStringSubmatch(cacheControl); m != nil {
		if secs, err := strconv.Atoi(m[1]); err == nil {
			ttl = time.Duration(secs) * time.Second
		}
	}
	if ttl < minTTL {
		ttl = minTTL
	}
	return ttl
}

func buildCacheKey(jwksURL string) string {
	sum := sha256.Sum256([]byte(jwksURL))
	return cachePrefix + hex.EncodeToString(sum[:])
}
