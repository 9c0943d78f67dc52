package metadata

import (
	"context"
	"log/slog"
	"net/url"
	"time"
)

// Raw responses default to a six-month shelf life. Collection membership is
// never trusted on a timer; see Service.Reconcile.
const defaultResponseTTL = 6 * 30 * 24 * time.Hour

// CacheStore is the persistence boundary for raw TMDB responses and derived
// collection records. Implementations must be safe for concurrent use and
// may evict entries on their own schedule. Set replaces any existing entry
// for the key in full.
type CacheStore interface {
	Get(key string) (data []byte, writtenAt time.Time, ok bool, err error)
	Set(key string, data []byte) error
}

// responseCache wraps tmdbClient with a cache-aside policy keyed by endpoint
// plus query parameters. Store failures degrade to plain upstream calls
// rather than failing the request.
type responseCache struct {
	client *tmdbClient
	store  CacheStore
	ttl    time.Duration
	log    *slog.Logger
}

func newResponseCache(client *tmdbClient, store CacheStore, ttl time.Duration) *responseCache {
	if ttl <= 0 {
		ttl = defaultResponseTTL
	}
	return &responseCache{
		client: client,
		store:  store,
		ttl:    ttl,
		log:    slog.Default().With("component", "response-cache"),
	}
}

// responseCacheKey builds the deterministic key for a request shape. The
// language is part of the key because responses are localized; the API key is
// not, so installs sharing a language share cache entries.
func responseCacheKey(endpoint, language string, params url.Values) string {
	q := url.Values{}
	for k, vs := range params {
		q[k] = vs
	}
	q.Set("language", normalizeLanguage(language))
	// Encode sorts keys, making the serialization canonical.
	return endpoint + "?" + q.Encode()
}

// fetch returns the cached response for the request shape when present and
// fresh, otherwise calls upstream and stores the result. forceRefresh skips
// the read but still writes.
func (rc *responseCache) fetch(ctx context.Context, cred Credentials, endpoint string, params url.Values, policy RetryPolicy, forceRefresh bool) ([]byte, error) {
	key := responseCacheKey(endpoint, cred.Language, params)
	if !forceRefresh {
		if data, ok := rc.lookup(key); ok {
			return data, nil
		}
	}
	body, err := rc.client.get(ctx, cred, endpoint, params, policy)
	if err != nil {
		return nil, err
	}
	if err := rc.store.Set(key, body); err != nil {
		rc.log.Warn("cache write failed", "key", key, "error", err)
	}
	return body, nil
}

// fetchBatch is the batched form of fetch: cached entries are served
// directly, the misses go upstream together through batchGet, and results
// come back in input order. Any upstream failure fails the whole batch.
func (rc *responseCache) fetchBatch(ctx context.Context, cred Credentials, reqs []batchItem, policy RetryPolicy) ([][]byte, error) {
	results := make([][]byte, len(reqs))
	var missIdx []int
	var misses []batchItem
	for i, r := range reqs {
		if data, ok := rc.lookup(responseCacheKey(r.endpoint, cred.Language, r.params)); ok {
			results[i] = data
			continue
		}
		missIdx = append(missIdx, i)
		misses = append(misses, r)
	}
	if len(misses) == 0 {
		return results, nil
	}
	bodies, err := rc.client.batchGet(ctx, cred, misses, policy)
	if err != nil {
		return nil, err
	}
	for j, body := range bodies {
		key := responseCacheKey(misses[j].endpoint, cred.Language, misses[j].params)
		if err := rc.store.Set(key, body); err != nil {
			rc.log.Warn("cache write failed", "key", key, "error", err)
		}
		results[missIdx[j]] = body
	}
	return results, nil
}

func (rc *responseCache) lookup(key string) ([]byte, bool) {
	data, writtenAt, ok, err := rc.store.Get(key)
	if err != nil {
		rc.log.Warn("cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok || time.Since(writtenAt) >= rc.ttl {
		return nil, false
	}
	return data, true
}
