package metadata

import "errors"

var (
	// ErrNotFound means the external id resolved to nothing on TMDB. Handlers
	// translate it into an empty stream list, not a failure.
	ErrNotFound = errors.New("content not found")

	// ErrUnauthorized means TMDB rejected the API key. Never retried, and it
	// aborts any batch in flight.
	ErrUnauthorized = errors.New("invalid TMDB API key")

	// ErrRateLimited means TMDB returned 429 and the retry budget ran out.
	ErrRateLimited = errors.New("TMDB rate limit exceeded")
)
