package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"sagastream/models"
	"sagastream/services/presenter"
)

const releaseDateLayout = "2006-01-02"

// Options configures a metadata Service.
type Options struct {
	// Store persists raw responses and derived collection records. Required.
	Store CacheStore
	// HTTPClient overrides the outbound client, mainly for tests.
	HTTPClient *http.Client
	// ResponseTTL bounds raw response reuse. Defaults to six months.
	ResponseTTL time.Duration
	// RequestsPerSecond and MaxConcurrent bound outbound TMDB traffic.
	// Zero values take the TMDB defaults (45/s, 20 concurrent).
	RequestsPerSecond int
	MaxConcurrent     int
	// DisableRateLimit turns off outbound pacing entirely.
	DisableRateLimit bool
}

// Service resolves external content ids against TMDB, keeps collection
// records reconciled, and produces presentable stream lists. All TMDB
// credentials arrive per call; the service itself is tenant-agnostic.
type Service struct {
	client *tmdbClient
	cache  *responseCache
	store  CacheStore
	log    *slog.Logger

	// Concurrent reconciliations of the same collection collapse onto one
	// upstream fetch and one write.
	flight singleflight.Group
}

func NewService(opts Options) *Service {
	var limiter *Limiter
	if !opts.DisableRateLimit {
		limiter = NewLimiter(opts.RequestsPerSecond, opts.MaxConcurrent)
	}
	client := newTMDBClient(opts.HTTPClient, limiter)
	return &Service{
		client: client,
		cache:  newResponseCache(client, opts.Store, opts.ResponseTTL),
		store:  opts.Store,
		log:    slog.Default().With("component", "metadata"),
	}
}

// TMDB wire shapes, limited to the fields this addon reads.

type findResponse struct {
	MovieResults []findEntry `json:"movie_results"`
	TVResults    []findEntry `json:"tv_results"`
}

type findEntry struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Name  string `json:"name"`
}

type detailResponse struct {
	ID                  int64   `json:"id"`
	Title               string  `json:"title"`
	Name                string  `json:"name"`
	Tagline             string  `json:"tagline"`
	VoteAverage         float64 `json:"vote_average"`
	VoteCount           int64   `json:"vote_count"`
	ReleaseDate         string  `json:"release_date"`
	FirstAirDate        string  `json:"first_air_date"`
	BelongsToCollection *struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"belongs_to_collection"`
}

func (d detailResponse) displayTitle() string {
	if d.Title != "" {
		return d.Title
	}
	return d.Name
}

func (d detailResponse) released() string {
	if d.ReleaseDate != "" {
		return d.ReleaseDate
	}
	return d.FirstAirDate
}

type collectionResponse struct {
	Name  string `json:"name"`
	Parts []struct {
		ID        int64  `json:"id"`
		MediaType string `json:"media_type"`
	} `json:"parts"`
}

type externalIDsResponse struct {
	IMDBID string `json:"imdb_id"`
}

// ResolveContent maps an external (IMDb) identifier to a TMDB title. A
// trailing ":"-separated disambiguator is stripped before the lookup. Movie
// matches win over series matches; no match at all is ErrNotFound.
func (s *Service) ResolveContent(ctx context.Context, cfg models.UserConfig, externalID string) (*models.ContentRef, error) {
	id, _, _ := strings.Cut(externalID, ":")
	body, err := s.cache.fetch(ctx, credentials(cfg), "find/"+id, url.Values{"external_source": {"imdb_id"}}, DefaultRetryPolicy(), false)
	if err != nil {
		return nil, err
	}
	var found findResponse
	if err := json.Unmarshal(body, &found); err != nil {
		return nil, fmt.Errorf("decode find response for %s: %w", id, err)
	}
	switch {
	case len(found.MovieResults) > 0:
		m := found.MovieResults[0]
		return &models.ContentRef{ExternalID: id, TMDBID: m.ID, Title: m.Title, Kind: models.MediaKindMovie}, nil
	case len(found.TVResults) > 0:
		tv := found.TVResults[0]
		return &models.ContentRef{ExternalID: id, TMDBID: tv.ID, Title: tv.Name, Kind: models.MediaKindSeries}, nil
	}
	return nil, fmt.Errorf("resolve %s: %w", id, ErrNotFound)
}

// CollectionFor returns the id of the collection the given title belongs to,
// or (0, nil) when it belongs to none. Belonging to no collection is a normal
// terminal state, not an error.
func (s *Service) CollectionFor(ctx context.Context, cfg models.UserConfig, ref *models.ContentRef) (int64, error) {
	detail, err := s.fetchDetail(ctx, cfg, ref.Kind, ref.TMDBID)
	if err != nil {
		return 0, err
	}
	if detail.BelongsToCollection == nil {
		return 0, nil
	}
	return detail.BelongsToCollection.ID, nil
}

func (s *Service) fetchDetail(ctx context.Context, cfg models.UserConfig, kind models.MediaKind, tmdbID int64) (*detailResponse, error) {
	endpoint := fmt.Sprintf("%s/%d", kind.TMDBPath(), tmdbID)
	body, err := s.cache.fetch(ctx, credentials(cfg), endpoint, nil, DefaultRetryPolicy(), false)
	if err != nil {
		return nil, err
	}
	var detail detailResponse
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, fmt.Errorf("decode detail response for %s: %w", endpoint, err)
	}
	return &detail, nil
}

// collectionRecordKey is the store key for a reconciled collection record.
// Language is part of the key because member titles and taglines are
// localized.
func collectionRecordKey(collectionID int64, language string) string {
	return fmt.Sprintf("collection:%d:%s", collectionID, normalizeLanguage(language))
}

// Reconcile returns the current record for a collection. The upstream
// listing is always refetched (no TTL shortcut) and its member identities are
// diffed against the cached record: when they match, the cached record is
// returned with no writes; when they differ or no record exists, every
// member's detail is refetched and a full replacement is persisted.
// Concurrent calls for the same collection and language share one flight.
func (s *Service) Reconcile(ctx context.Context, cfg models.UserConfig, collectionID int64) (*models.CachedCollection, error) {
	key := collectionRecordKey(collectionID, cfg.Language)
	v, err, _ := s.flight.Do(key, func() (any, error) {
		return s.reconcile(ctx, cfg, collectionID, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.CachedCollection), nil
}

func (s *Service) reconcile(ctx context.Context, cfg models.UserConfig, collectionID int64, recordKey string) (*models.CachedCollection, error) {
	var cached *models.CachedCollection
	if data, _, ok, err := s.store.Get(recordKey); err != nil {
		s.log.Warn("collection record read failed", "key", recordKey, "error", err)
	} else if ok {
		var rec models.CachedCollection
		if err := json.Unmarshal(data, &rec); err != nil {
			s.log.Warn("collection record corrupt, refetching", "key", recordKey, "error", err)
		} else {
			cached = &rec
		}
	}

	// Membership must be compared against a fresh listing, so this goes
	// straight to the client: the response cache is neither read (its TTL
	// does not apply here) nor written (a valid cache means zero writes).
	endpoint := fmt.Sprintf("collection/%d", collectionID)
	body, err := s.client.get(ctx, credentials(cfg), endpoint, nil, BulkRetryPolicy())
	if err != nil {
		return nil, err
	}
	var listing collectionResponse
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("decode collection %d: %w", collectionID, err)
	}

	current := make([]models.MemberIdentity, len(listing.Parts))
	for i, part := range listing.Parts {
		current[i] = models.MemberIdentity{TMDBID: part.ID, Kind: models.NormalizeMediaKind(part.MediaType)}
	}

	if cached != nil && identitiesEqual(memberIdentities(cached.Members), current) {
		s.log.Debug("collection record valid", "collection", collectionID, "members", len(current))
		return cached, nil
	}

	if cached == nil {
		s.log.Info("no collection record, fetching members", "collection", collectionID, "members", len(current))
	} else {
		s.log.Info("collection membership changed, refetching members", "collection", collectionID,
			"cached", len(cached.Members), "current", len(current))
	}

	members, err := s.fetchMembers(ctx, cfg, current)
	if err != nil {
		return nil, err
	}
	record := &models.CachedCollection{
		CollectionID: collectionID,
		Title:        listing.Name,
		Members:      members,
		FetchedAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode collection %d: %w", collectionID, err)
	}
	if err := s.store.Set(recordKey, data); err != nil {
		// The record is still good for this request; the next one refetches.
		s.log.Warn("collection record write failed", "key", recordKey, "error", err)
	}
	return record, nil
}

// fetchMembers fans out the per-member detail lookups and, for members that
// are already released, the external-id lookups. Ordering follows the
// identities given; unreleased members keep an empty IMDb id since TMDB has
// nothing meaningful for them yet.
func (s *Service) fetchMembers(ctx context.Context, cfg models.UserConfig, identities []models.MemberIdentity) ([]models.CollectionMember, error) {
	cred := credentials(cfg)

	detailReqs := make([]batchItem, len(identities))
	for i, id := range identities {
		detailReqs[i] = batchItem{endpoint: fmt.Sprintf("%s/%d", id.Kind.TMDBPath(), id.TMDBID)}
	}
	bodies, err := s.cache.fetchBatch(ctx, cred, detailReqs, DefaultRetryPolicy())
	if err != nil {
		return nil, err
	}

	now := time.Now()
	members := make([]models.CollectionMember, len(identities))
	var releasedIdx []int
	var idReqs []batchItem
	for i, body := range bodies {
		var detail detailResponse
		if err := json.Unmarshal(body, &detail); err != nil {
			return nil, fmt.Errorf("decode member detail %d: %w", identities[i].TMDBID, err)
		}
		members[i] = models.CollectionMember{
			TMDBID:      identities[i].TMDBID,
			Kind:        identities[i].Kind,
			Title:       detail.displayTitle(),
			ReleaseDate: detail.released(),
			VoteAverage: detail.VoteAverage,
			VoteCount:   detail.VoteCount,
			Tagline:     detail.Tagline,
		}
		if isReleased(members[i].ReleaseDate, now) {
			releasedIdx = append(releasedIdx, i)
			idReqs = append(idReqs, batchItem{
				endpoint: fmt.Sprintf("%s/%d/external_ids", identities[i].Kind.TMDBPath(), identities[i].TMDBID),
			})
		}
	}

	if len(idReqs) > 0 {
		idBodies, err := s.cache.fetchBatch(ctx, cred, idReqs, DefaultRetryPolicy())
		if err != nil {
			return nil, err
		}
		for j, body := range idBodies {
			var ids externalIDsResponse
			if err := json.Unmarshal(body, &ids); err != nil {
				return nil, fmt.Errorf("decode external ids %d: %w", members[releasedIdx[j]].TMDBID, err)
			}
			members[releasedIdx[j]].IMDBID = ids.IMDBID
		}
	}
	return members, nil
}

// StreamsForContent is the addon's single inbound operation: resolve the
// external id, locate its collection, reconcile, and present. "Not found"
// and "no collection" both yield an empty list and a nil error.
func (s *Service) StreamsForContent(ctx context.Context, cfg models.UserConfig, externalID, userAgent string) ([]models.Stream, error) {
	ref, err := s.ResolveContent(ctx, cfg, externalID)
	if errors.Is(err, ErrNotFound) {
		s.log.Info("content not found", "externalId", externalID)
		return []models.Stream{}, nil
	}
	if err != nil {
		return nil, err
	}

	collectionID, err := s.CollectionFor(ctx, cfg, ref)
	if err != nil {
		return nil, err
	}
	if collectionID == 0 {
		s.log.Info("content belongs to no collection", "externalId", externalID, "tmdbId", ref.TMDBID)
		return []models.Stream{}, nil
	}

	record, err := s.Reconcile(ctx, cfg, collectionID)
	if err != nil {
		return nil, err
	}
	opts := presenter.Options{ShowRating: cfg.ShowRating, ShowTagline: cfg.ShowTagline}
	return presenter.Present(record.Members, opts, userAgent), nil
}

func credentials(cfg models.UserConfig) Credentials {
	return Credentials{APIKey: cfg.APIKey, Language: cfg.Language}
}

func memberIdentities(members []models.CollectionMember) []models.MemberIdentity {
	ids := make([]models.MemberIdentity, len(members))
	for i, m := range members {
		ids[i] = m.Identity()
	}
	return ids
}

// identitiesEqual compares ordered identity sequences structurally. Order
// matters: the upstream listing order is the canonical one, and a reorder is
// treated as a membership change.
func identitiesEqual(a, b []models.MemberIdentity) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// isReleased reports whether the date string names a day on or before now.
// Absent or unparseable dates count as unreleased.
func isReleased(date string, now time.Time) bool {
	t, err := time.Parse(releaseDateLayout, date)
	if err != nil {
		return false
	}
	return !t.After(now)
}
