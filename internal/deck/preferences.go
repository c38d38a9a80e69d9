package deck

import (
	"context"

	"cinedeck/internal/config"
	"cinedeck/internal/tmdb"
)

// PreferencesProvider supplies the discovery filters for a user.
type PreferencesProvider interface {
	Preferences(ctx context.Context, userID string) (tmdb.Preferences, error)
}

// StaticPreferences returns the same filters for every user.
type StaticPreferences tmdb.Preferences

// Preferences implements PreferencesProvider.
func (s StaticPreferences) Preferences(context.Context, string) (tmdb.Preferences, error) {
	prefs := tmdb.Preferences(s)
	prefs.Genres = append([]int(nil), s.Genres...)
	prefs.ExcludeGenres = append([]int(nil), s.ExcludeGenres...)
	return prefs, nil
}

// PreferencesFromConfig builds the default provider from the [discovery]
// section.
func PreferencesFromConfig(cfg *config.Config) StaticPreferences {
	d := cfg.Discovery
	return StaticPreferences{
		Genres:           append([]int(nil), d.Genres...),
		ExcludeGenres:    append([]int(nil), d.ExcludeGenres...),
		MinRating:        d.MinRating,
		MinVotes:         d.MinVotes,
		MinYear:          d.MinYear,
		MaxYear:          d.MaxYear,
		OriginalLanguage: d.Language,
		SortBy:           d.SortBy,
		Region:           cfg.TMDB.Region,
		IncludeAdult:     d.IncludeAdult,
	}
}
