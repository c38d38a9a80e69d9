package catalog

import (
	"strconv"
	"strings"
	"time"

	"cinedeck/internal/tmdb"
)

// Movie is a catalog row. Nil fields are unknown; a summary-only movie has a
// nil DetailsFetchedAt.
type Movie struct {
	ID               int64
	Title            *string
	OriginalTitle    *string
	Overview         *string
	PosterPath       *string
	BackdropPath     *string
	ReleaseDate      *string
	ReleaseYear      *int
	OriginalLanguage *string
	Rating           *float64
	VoteCount        *int64
	Runtime          *int
	GenreIDs         []int
	Genres           []string
	DetailsFetchedAt *time.Time
	UpdatedAt        time.Time
}

// HasDetails reports whether a details backfill has been merged.
func (m Movie) HasDetails() bool {
	return m.DetailsFetchedAt != nil
}

// DisplayTitle returns the title, the original title, or a placeholder.
func (m Movie) DisplayTitle() string {
	if m.Title != nil && *m.Title != "" {
		return *m.Title
	}
	if m.OriginalTitle != nil && *m.OriginalTitle != "" {
		return *m.OriginalTitle
	}
	return "#" + strconv.FormatInt(m.ID, 10)
}

// Merge combines a stored movie with an incoming write. For every field the
// incoming value wins when it is known; otherwise the existing value is kept.
// The ID always comes from incoming, and DetailsFetchedAt never moves from
// set back to unset.
func Merge(existing, incoming Movie) Movie {
	return Movie{
		ID:               incoming.ID,
		Title:            coalesce(incoming.Title, existing.Title),
		OriginalTitle:    coalesce(incoming.OriginalTitle, existing.OriginalTitle),
		Overview:         coalesce(incoming.Overview, existing.Overview),
		PosterPath:       coalesce(incoming.PosterPath, existing.PosterPath),
		BackdropPath:     coalesce(incoming.BackdropPath, existing.BackdropPath),
		ReleaseDate:      coalesce(incoming.ReleaseDate, existing.ReleaseDate),
		ReleaseYear:      coalesce(incoming.ReleaseYear, existing.ReleaseYear),
		OriginalLanguage: coalesce(incoming.OriginalLanguage, existing.OriginalLanguage),
		Rating:           coalesce(incoming.Rating, existing.Rating),
		VoteCount:        coalesce(incoming.VoteCount, existing.VoteCount),
		Runtime:          coalesce(incoming.Runtime, existing.Runtime),
		GenreIDs:         coalesceSlice(incoming.GenreIDs, existing.GenreIDs),
		Genres:           coalesceSlice(incoming.Genres, existing.Genres),
		DetailsFetchedAt: coalesce(incoming.DetailsFetchedAt, existing.DetailsFetchedAt),
		UpdatedAt:        laterOf(incoming.UpdatedAt, existing.UpdatedAt),
	}
}

func coalesce[T any](incoming, existing *T) *T {
	if incoming != nil {
		return incoming
	}
	return existing
}

func coalesceSlice[T any](incoming, existing []T) []T {
	if incoming != nil {
		return incoming
	}
	return existing
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// FromCard converts a discovery result into a summary-only movie. Detail
// fields stay nil so Merge preserves whatever a backfill already stored.
func FromCard(card tmdb.Card) Movie {
	movie := Movie{
		ID:               card.ID,
		Title:            text(card.Title),
		OriginalTitle:    text(card.OriginalTitle),
		Overview:         text(card.Overview),
		PosterPath:       text(card.PosterPath),
		BackdropPath:     text(card.BackdropPath),
		ReleaseDate:      text(card.ReleaseDate),
		ReleaseYear:      yearOf(card.ReleaseDate),
		OriginalLanguage: text(card.OriginalLanguage),
		Rating:           ptr(card.VoteAverage),
	}
	if card.GenreIDs != nil {
		movie.GenreIDs = append([]int{}, card.GenreIDs...)
	}
	return movie
}

// FromDetails converts a detail document into a movie carrying detail
// fields. The caller stamps DetailsFetchedAt.
func FromDetails(details tmdb.Details) Movie {
	movie := Movie{
		ID:               details.ID,
		Title:            text(details.Title),
		OriginalTitle:    text(details.OriginalTitle),
		Overview:         text(details.Overview),
		PosterPath:       text(details.PosterPath),
		BackdropPath:     text(details.BackdropPath),
		ReleaseDate:      text(details.ReleaseDate),
		ReleaseYear:      yearOf(details.ReleaseDate),
		OriginalLanguage: text(details.OriginalLanguage),
		Rating:           ptr(details.VoteAverage),
		VoteCount:        ptr(details.VoteCount),
	}
	if details.Runtime > 0 {
		movie.Runtime = ptr(details.Runtime)
	}
	if details.Genres != nil {
		movie.GenreIDs = make([]int, 0, len(details.Genres))
		movie.Genres = make([]string, 0, len(details.Genres))
		for _, genre := range details.Genres {
			movie.GenreIDs = append(movie.GenreIDs, genre.ID)
			movie.Genres = append(movie.Genres, genre.Name)
		}
	}
	return movie
}

func ptr[T any](v T) *T {
	return &v
}

func text(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func yearOf(date string) *int {
	date = strings.TrimSpace(date)
	if len(date) < 4 {
		return nil
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil || year <= 0 {
		return nil
	}
	return &year
}
