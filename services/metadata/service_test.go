package metadata

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"

	"sagastream/models"
)

// fakeTMDB routes requests by URL path and counts how often each path is hit.
type fakeTMDB struct {
	mu     sync.Mutex
	hits   map[string]int
	routes map[string]string
}

func newFakeTMDB() *fakeTMDB {
	return &fakeTMDB{hits: make(map[string]int), routes: make(map[string]string)}
}

func (f *fakeTMDB) route(path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[path] = body
}

func (f *fakeTMDB) hitCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fakeTMDB) roundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[req.URL.Path]++
	body, ok := f.routes[req.URL.Path]
	if !ok {
		return jsonResponse(http.StatusNotFound, `{"status_message":"not found"}`), nil
	}
	return jsonResponse(http.StatusOK, body), nil
}

func newTestService(f *fakeTMDB, store CacheStore) *Service {
	return NewService(Options{
		Store:            store,
		HTTPClient:       &http.Client{Transport: roundTripFunc(f.roundTrip)},
		DisableRateLimit: true,
	})
}

func matrixFake() *fakeTMDB {
	f := newFakeTMDB()
	f.route("/3/find/tt0133093", `{"movie_results":[{"id":603,"title":"The Matrix"}],"tv_results":[]}`)
	f.route("/3/movie/603", `{"id":603,"title":"The Matrix","tagline":"Welcome to the Real World","vote_average":8.2,"vote_count":25000,"release_date":"1999-03-31","belongs_to_collection":{"id":2344,"name":"The Matrix Collection"}}`)
	f.route("/3/movie/604", `{"id":604,"title":"The Matrix Reloaded","vote_average":7.0,"vote_count":20000,"release_date":"2003-05-15"}`)
	f.route("/3/collection/2344", `{"name":"The Matrix Collection","parts":[{"id":603,"media_type":"movie"},{"id":604,"media_type":"movie"}]}`)
	f.route("/3/movie/603/external_ids", `{"imdb_id":"tt0133093"}`)
	f.route("/3/movie/604/external_ids", `{"imdb_id":"tt0234215"}`)
	return f
}

func testConfig() models.UserConfig {
	return models.UserConfig{APIKey: "k", Language: "en-US", ShowRating: true}
}

func TestStreamsForContentEndToEnd(t *testing.T) {
	svc := newTestService(matrixFake(), newMemStore())

	streams, err := svc.StreamsForContent(context.Background(), testConfig(), "tt0133093", "Stremio/1.0")
	if err != nil {
		t.Fatalf("StreamsForContent: %v", err)
	}
	if len(streams) != 2 {
		t.Fatalf("expected 2 streams, got %d", len(streams))
	}
	if streams[0].Name != "1999" || streams[1].Name != "2003" {
		t.Fatalf("streams out of release order: %q, %q", streams[0].Name, streams[1].Name)
	}
	if !strings.Contains(streams[0].Title, "The Matrix") {
		t.Fatalf("first stream title %q missing movie title", streams[0].Title)
	}
	if !strings.Contains(streams[0].Title, "8.2") {
		t.Fatalf("rating line missing from %q", streams[0].Title)
	}
	if streams[0].ExternalURL != "stremio:///detail/movie/tt0133093" {
		t.Fatalf("unexpected deep link %q", streams[0].ExternalURL)
	}
}

func TestStreamsForContentSeasonSuffixStripped(t *testing.T) {
	f := matrixFake()
	svc := newTestService(f, newMemStore())

	if _, err := svc.StreamsForContent(context.Background(), testConfig(), "tt0133093:1:2", "curl/8"); err != nil {
		t.Fatalf("StreamsForContent: %v", err)
	}
	if f.hitCount("/3/find/tt0133093") != 1 {
		t.Fatal("expected the suffix-stripped id to be looked up")
	}
}

func TestStreamsForContentUnknownID(t *testing.T) {
	f := newFakeTMDB()
	f.route("/3/find/tt0000001", `{"movie_results":[],"tv_results":[]}`)
	svc := newTestService(f, newMemStore())

	streams, err := svc.StreamsForContent(context.Background(), testConfig(), "tt0000001", "curl/8")
	if err != nil {
		t.Fatalf("unknown id must not error: %v", err)
	}
	if len(streams) != 0 {
		t.Fatalf("expected empty stream list, got %d", len(streams))
	}
}

func TestStreamsForContentNoCollection(t *testing.T) {
	f := newFakeTMDB()
	f.route("/3/find/tt0137523", `{"movie_results":[{"id":550,"title":"Fight Club"}],"tv_results":[]}`)
	f.route("/3/movie/550", `{"id":550,"title":"Fight Club","vote_average":8.4,"vote_count":30000,"release_date":"1999-10-15"}`)
	svc := newTestService(f, newMemStore())

	streams, err := svc.StreamsForContent(context.Background(), testConfig(), "tt0137523", "curl/8")
	if err != nil {
		t.Fatalf("standalone title must not error: %v", err)
	}
	if len(streams) != 0 {
		t.Fatalf("expected empty stream list, got %d", len(streams))
	}
	if f.hitCount("/3/collection/2344") != 0 {
		t.Fatal("no collection should have been fetched")
	}
}

func TestStreamsForContentSeriesWithoutCollection(t *testing.T) {
	f := newFakeTMDB()
	f.route("/3/find/tt0111161", `{"movie_results":[],"tv_results":[{"id":1396,"name":"Some Show"}]}`)
	f.route("/3/tv/1396", `{"id":1396,"name":"Some Show","vote_average":9.0,"vote_count":10000,"first_air_date":"2008-01-20"}`)
	svc := newTestService(f, newMemStore())

	streams, err := svc.StreamsForContent(context.Background(), testConfig(), "tt0111161:series", "Stremio/4.4")
	if err != nil {
		t.Fatalf("series without collection must not error: %v", err)
	}
	if len(streams) != 0 {
		t.Fatalf("expected empty stream list, got %d", len(streams))
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := matrixFake()
	store := newMemStore()
	svc := newTestService(f, store)

	first, err := svc.Reconcile(context.Background(), testConfig(), 2344)
	if err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	if len(first.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(first.Members))
	}
	writesAfterFirst := store.setCount()
	if writesAfterFirst == 0 {
		t.Fatal("first Reconcile should have written the record")
	}

	second, err := svc.Reconcile(context.Background(), testConfig(), 2344)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if store.setCount() != writesAfterFirst {
		t.Fatalf("valid record caused %d extra writes", store.setCount()-writesAfterFirst)
	}
	if f.hitCount("/3/collection/2344") != 2 {
		t.Fatalf("listing must be refetched each call, saw %d fetches", f.hitCount("/3/collection/2344"))
	}
	if f.hitCount("/3/movie/604") != 1 {
		t.Fatalf("member details should come from cache on the second call, saw %d fetches", f.hitCount("/3/movie/604"))
	}
	if !second.FetchedAt.Equal(first.FetchedAt) {
		t.Fatal("second call should return the existing record untouched")
	}
}

func TestReconcileDetectsMembershipChange(t *testing.T) {
	f := matrixFake()
	store := newMemStore()
	svc := newTestService(f, store)

	first, err := svc.Reconcile(context.Background(), testConfig(), 2344)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(first.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(first.Members))
	}

	f.route("/3/movie/605", `{"id":605,"title":"The Matrix Revolutions","vote_average":6.7,"vote_count":15000,"release_date":"2003-11-05"}`)
	f.route("/3/movie/605/external_ids", `{"imdb_id":"tt0242653"}`)
	f.route("/3/collection/2344", `{"name":"The Matrix Collection","parts":[{"id":603,"media_type":"movie"},{"id":604,"media_type":"movie"},{"id":605,"media_type":"movie"}]}`)

	second, err := svc.Reconcile(context.Background(), testConfig(), 2344)
	if err != nil {
		t.Fatalf("Reconcile after change: %v", err)
	}
	if len(second.Members) != 3 {
		t.Fatalf("expected 3 members after change, got %d", len(second.Members))
	}
	if second.Members[2].IMDBID != "tt0242653" {
		t.Fatalf("new member missing IMDb id: %+v", second.Members[2])
	}
}

func TestReconcileSkipsExternalIDsForUnreleased(t *testing.T) {
	f := newFakeTMDB()
	f.route("/3/collection/9000", `{"name":"Future Saga","parts":[{"id":700,"media_type":"movie"},{"id":701,"media_type":"movie"}]}`)
	f.route("/3/movie/700", `{"id":700,"title":"Origins","vote_average":7.5,"vote_count":1000,"release_date":"2020-06-01"}`)
	f.route("/3/movie/700/external_ids", `{"imdb_id":"tt7000000"}`)
	f.route("/3/movie/701", `{"id":701,"title":"Origins II","vote_average":0,"vote_count":0,"release_date":"2099-01-01"}`)
	svc := newTestService(f, newMemStore())

	record, err := svc.Reconcile(context.Background(), testConfig(), 9000)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if f.hitCount("/3/movie/701/external_ids") != 0 {
		t.Fatal("unreleased member must not trigger an external-id lookup")
	}
	if record.Members[1].IMDBID != "" {
		t.Fatalf("unreleased member has IMDb id %q", record.Members[1].IMDBID)
	}
	if record.Members[0].IMDBID != "tt7000000" {
		t.Fatalf("released member missing IMDb id: %+v", record.Members[0])
	}
}

func TestReconcilePartitionsByLanguage(t *testing.T) {
	f := matrixFake()
	store := newMemStore()
	svc := newTestService(f, store)

	cfg := testConfig()
	if _, err := svc.Reconcile(context.Background(), cfg, 2344); err != nil {
		t.Fatalf("Reconcile en: %v", err)
	}
	if _, _, ok, _ := store.Get(collectionRecordKey(2344, "en-US")); !ok {
		t.Fatal("expected an en-US record")
	}
	if _, _, ok, _ := store.Get(collectionRecordKey(2344, "pt-BR")); ok {
		t.Fatal("pt-BR record should not exist yet")
	}
}

func TestResolveContentPrefersMovies(t *testing.T) {
	f := newFakeTMDB()
	f.route("/3/find/tt0098904", `{"movie_results":[{"id":1,"title":"Pilot Movie"}],"tv_results":[{"id":1400,"name":"Seinfeld"}]}`)
	svc := newTestService(f, newMemStore())

	ref, err := svc.ResolveContent(context.Background(), testConfig(), "tt0098904")
	if err != nil {
		t.Fatalf("ResolveContent: %v", err)
	}
	if ref.Kind != models.MediaKindMovie || ref.TMDBID != 1 {
		t.Fatalf("movie result should win, got %+v", ref)
	}
}

func TestResolveContentSeries(t *testing.T) {
	f := newFakeTMDB()
	f.route("/3/find/tt0098904", `{"movie_results":[],"tv_results":[{"id":1400,"name":"Seinfeld"}]}`)
	svc := newTestService(f, newMemStore())

	ref, err := svc.ResolveContent(context.Background(), testConfig(), "tt0098904:3:7")
	if err != nil {
		t.Fatalf("ResolveContent: %v", err)
	}
	if ref.Kind != models.MediaKindSeries || ref.Title != "Seinfeld" {
		t.Fatalf("unexpected ref %+v", ref)
	}
}
