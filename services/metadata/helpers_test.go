package metadata

import (
	"net/http"
	"net/url"
	"sync"
	"time"
)

// mustValues builds url.Values from alternating key/value pairs.
func mustValues(kv ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		v.Set(kv[i], kv[i+1])
	}
	return v
}

// roundTripFunc lets tests stand in for the TMDB transport.
type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// memStore is an in-memory CacheStore for tests. It counts writes so tests
// can assert on reconciliation write behavior.
type memStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	sets    int
}

type memEntry struct {
	data []byte
	at   time.Time
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]memEntry)}
}

func (s *memStore) Get(key string) ([]byte, time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, time.Time{}, false, nil
	}
	return e.data, e.at, true, nil
}

func (s *memStore) Set(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{data: data, at: time.Now()}
	s.sets++
	return nil
}

// seed writes an entry with an explicit timestamp without counting it.
func (s *memStore) seed(key string, data []byte, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{data: data, at: at}
}

func (s *memStore) setCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}
