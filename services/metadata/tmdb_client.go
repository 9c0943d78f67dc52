package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/sourcegraph/conc/pool"
)

// Minimal TMDB v3 client (GET-only, per-request credentials, paced by Limiter)

const (
	tmdbBaseURL    = "https://api.themoviedb.org/3"
	requestTimeout = 5 * time.Second
)

// Credentials carry the per-request TMDB key and response language. They are
// supplied by the caller on every request; the client holds no key of its own.
type Credentials struct {
	APIKey   string
	Language string
}

// RetryPolicy makes the retry behavior of a logical request an explicit,
// testable value instead of an implicit recursion.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts uint
	// Backoff is the delay after a transient failure (timeout, 5xx, network).
	Backoff time.Duration
	// RateLimitBackoff is the delay after an upstream 429.
	RateLimitBackoff time.Duration
}

// DefaultRetryPolicy is the per-call policy: three retries, one-second waits.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 4, Backoff: time.Second, RateLimitBackoff: time.Second}
}

// BulkRetryPolicy backs off a full minute after a 429. Used for the
// reconciliation listing fetch, which competes with its own member fan-out
// for the same quota.
func BulkRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 4, Backoff: time.Second, RateLimitBackoff: time.Minute}
}

type tmdbClient struct {
	httpc   *http.Client
	limiter *Limiter
	log     *slog.Logger
}

func newTMDBClient(httpc *http.Client, limiter *Limiter) *tmdbClient {
	if httpc == nil {
		httpc = &http.Client{}
	}
	return &tmdbClient{
		httpc:   httpc,
		limiter: limiter,
		log:     slog.Default().With("component", "tmdb"),
	}
}

// batchItem names one request within a batch.
type batchItem struct {
	endpoint string
	params   url.Values
}

// get performs one logical GET against TMDB and returns the raw response
// body. Every attempt passes through the limiter and is bounded by the
// per-call network timeout. 401 fails immediately; 429 and transient errors
// are retried per policy.
func (c *tmdbClient) get(ctx context.Context, cred Credentials, endpoint string, params url.Values, policy RetryPolicy) ([]byte, error) {
	u := buildRequestURL(cred, endpoint, params)
	var body []byte
	err := retry.Do(
		func() error {
			return c.limiter.Admit(ctx, func() error {
				var err error
				body, err = c.doOnce(ctx, endpoint, u)
				return err
			})
		},
		retry.Attempts(policy.Attempts),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrUnauthorized) && !errors.Is(err, context.Canceled)
		}),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			if errors.Is(err, ErrRateLimited) {
				c.log.Warn("rate limited by TMDB, backing off", "endpoint", endpoint, "wait", policy.RateLimitBackoff)
				return policy.RateLimitBackoff
			}
			return policy.Backoff
		}),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// doOnce is a single attempt with its own timeout.
func (c *tmdbClient) doOnce(ctx context.Context, endpoint, u string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("tmdb get %s: %w", endpoint, ErrUnauthorized)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("tmdb get %s: %w", endpoint, ErrRateLimited)
	case resp.StatusCode >= 300:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("tmdb get %s failed: %s: %s", endpoint, resp.Status, strings.TrimSpace(string(detail)))
	}
	return io.ReadAll(resp.Body)
}

// batchGet runs the given requests concurrently through get, with results in
// input order regardless of completion order. The first failure cancels the
// remaining requests and fails the whole batch.
func (c *tmdbClient) batchGet(ctx context.Context, cred Credentials, reqs []batchItem, policy RetryPolicy) ([][]byte, error) {
	results := make([][]byte, len(reqs))
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	for i, r := range reqs {
		i, r := i, r
		p.Go(func(ctx context.Context) error {
			body, err := c.get(ctx, cred, r.endpoint, r.params, policy)
			if err != nil {
				return err
			}
			results[i] = body
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func buildRequestURL(cred Credentials, endpoint string, params url.Values) string {
	q := url.Values{}
	for k, vs := range params {
		q[k] = vs
	}
	q.Set("api_key", cred.APIKey)
	q.Set("language", normalizeLanguage(cred.Language))
	return tmdbBaseURL + "/" + endpoint + "?" + q.Encode()
}

// normalizeLanguage converts a loose language hint into the BCP-47 form TMDB
// expects: lowercase language, uppercase region, "US" when no region given.
func normalizeLanguage(lang string) string {
	lang = strings.TrimSpace(strings.ReplaceAll(lang, "_", "-"))
	if lang == "" {
		return "en-US"
	}
	parts := strings.SplitN(lang, "-", 2)
	base := strings.ToLower(parts[0])
	region := "US"
	if len(parts) == 2 && parts[1] != "" {
		region = strings.ToUpper(parts[1])
	}
	return base + "-" + region
}
