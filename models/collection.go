package models

import "time"

// MediaKind distinguishes movies from series. TMDB calls series "tv" on the
// wire; NormalizeMediaKind maps that back to MediaKindSeries.
type MediaKind string

const (
	MediaKindMovie  MediaKind = "movie"
	MediaKindSeries MediaKind = "series"
)

// NormalizeMediaKind maps a TMDB media_type value to a MediaKind. Collection
// parts occasionally omit media_type entirely; those are always movies.
func NormalizeMediaKind(mediaType string) MediaKind {
	if mediaType == "tv" || mediaType == "series" {
		return MediaKindSeries
	}
	return MediaKindMovie
}

// TMDBPath returns the path segment TMDB uses for this kind.
func (k MediaKind) TMDBPath() string {
	if k == MediaKindSeries {
		return "tv"
	}
	return "movie"
}

// ContentRef is the result of resolving an external (IMDb) identifier to a
// TMDB title. Immutable once produced, never persisted on its own.
type ContentRef struct {
	ExternalID string
	TMDBID     int64
	Title      string
	Kind       MediaKind
}

// MemberIdentity is the (id, kind) pair the reconciler diffs to decide
// whether a cached collection is still current.
type MemberIdentity struct {
	TMDBID int64     `json:"id"`
	Kind   MediaKind `json:"media_type"`
}

// CollectionMember is one title belonging to a collection, carrying the
// detail fields the presenter needs. Optional fields stay zero when TMDB has
// no value for them.
type CollectionMember struct {
	TMDBID      int64     `json:"id"`
	Kind        MediaKind `json:"media_type"`
	Title       string    `json:"title,omitempty"`
	IMDBID      string    `json:"imdb_id,omitempty"`
	ReleaseDate string    `json:"release_date,omitempty"`
	VoteAverage float64   `json:"vote_average,omitempty"`
	VoteCount   int64     `json:"vote_count,omitempty"`
	Tagline     string    `json:"tagline,omitempty"`
}

// Identity returns the member's diffable identity pair.
func (m CollectionMember) Identity() MemberIdentity {
	return MemberIdentity{TMDBID: m.TMDBID, Kind: m.Kind}
}

// CachedCollection is the derived record the reconciler persists. Members
// keep the upstream listing order; presentation sorting happens later.
// Updates are whole-record replacements, never field patches.
type CachedCollection struct {
	CollectionID int64              `json:"collection_id"`
	Title        string             `json:"title"`
	Members      []CollectionMember `json:"members"`
	FetchedAt    time.Time          `json:"fetched_at"`
}
