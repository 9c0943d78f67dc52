// Package presenter turns reconciled collection members into the sorted,
// display-ready stream entries Stremio renders. It performs no I/O.
package presenter

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"sagastream/models"
)

// Options controls the optional lines appended to each entry title.
type Options struct {
	ShowRating  bool
	ShowTagline bool
}

// fallbackLabel stands in for the year when a member has no parseable
// release date.
const fallbackLabel = "TMDB"

const releaseDateLayout = "2006-01-02"

// Present builds one stream entry per member and sorts them by release year,
// ascending, with undated entries last. The sort is stable, so undated
// entries keep their listing order. userAgent decides whether deep links use
// the native client scheme.
func Present(members []models.CollectionMember, opts Options, userAgent string) []models.Stream {
	now := time.Now()

	type entry struct {
		stream models.Stream
		year   int
	}
	entries := make([]entry, len(members))
	for i, m := range members {
		year := releaseYear(m.ReleaseDate)
		label := fallbackLabel
		if year > 0 {
			label = strconv.Itoa(year)
		}
		entries[i] = entry{
			stream: models.Stream{
				Name:        label,
				Title:       buildTitle(m, opts),
				ExternalURL: externalURL(m, userAgent, now),
			},
			year: year,
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		yi, yj := entries[i].year, entries[j].year
		if yi == 0 {
			return false
		}
		if yj == 0 {
			return true
		}
		return yi < yj
	})

	streams := make([]models.Stream, len(entries))
	for i, e := range entries {
		streams[i] = e.stream
	}
	return streams
}

// buildTitle appends the optional rating and tagline lines to the member
// title. A zero rating gets no rating line, but a vote count still shows.
func buildTitle(m models.CollectionMember, opts Options) string {
	var b strings.Builder
	b.WriteString(m.Title)
	if opts.ShowRating {
		if m.VoteAverage > 0 {
			fmt.Fprintf(&b, "\n%.1f %s", m.VoteAverage, RatingEmoji(m.VoteAverage))
		}
		if m.VoteCount > 0 {
			fmt.Fprintf(&b, " (%s 👥)", FormatVoteCount(m.VoteCount))
		}
	}
	if opts.ShowTagline && m.Tagline != "" {
		b.WriteString("\n")
		b.WriteString(m.Tagline)
	}
	return b.String()
}

// externalURL picks the destination for an entry. Unreleased or undated
// members link to their TMDB page; released ones deep-link into Stremio,
// native scheme when the caller is the desktop client, web otherwise. A
// released member without an IMDb id falls back to the TMDB page since a
// deep link needs one.
func externalURL(m models.CollectionMember, userAgent string, now time.Time) string {
	tmdbPage := fmt.Sprintf("https://www.themoviedb.org/%s/%d", m.Kind.TMDBPath(), m.TMDBID)
	if m.ReleaseDate == "" {
		return tmdbPage
	}
	if t, err := time.Parse(releaseDateLayout, m.ReleaseDate); err == nil && t.After(now) {
		return tmdbPage
	}
	if m.IMDBID == "" {
		return tmdbPage
	}
	if strings.Contains(userAgent, "Stremio") {
		return fmt.Sprintf("stremio:///detail/%s/%s", m.Kind, m.IMDBID)
	}
	return fmt.Sprintf("https://web.stremio.com/#/detail/%s/%s", m.Kind, m.IMDBID)
}

// releaseYear extracts the four-digit year prefix of a release date, or 0.
func releaseYear(date string) int {
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil || year <= 0 {
		return 0
	}
	return year
}

// RatingEmoji maps a vote average to its tier emoji.
func RatingEmoji(rating float64) string {
	switch {
	case rating >= 9:
		return "🏆"
	case rating >= 8:
		return "🔥"
	case rating >= 6:
		return "⭐"
	case rating >= 5:
		return "😐"
	default:
		return "🥱"
	}
}

// FormatVoteCount compacts large vote counts: 500 → "500", 1500 → "2k",
// 2500000 → "3M" (nearest-integer rounding).
func FormatVoteCount(votes int64) string {
	switch {
	case votes >= 1_000_000:
		return fmt.Sprintf("%dM", int64(math.Round(float64(votes)/1_000_000)))
	case votes >= 1_000:
		return fmt.Sprintf("%dk", int64(math.Round(float64(votes)/1_000)))
	default:
		return strconv.FormatInt(votes, 10)
	}
}
