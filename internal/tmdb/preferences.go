package tmdb

import (
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/text/language"
)

const defaultSortBy = "popularity.desc"

// Preferences are the discovery filters for one user.
type Preferences struct {
	Genres           []int
	ExcludeGenres    []int
	MinRating        float64
	MinVotes         int
	MinYear          int
	MaxYear          int
	OriginalLanguage string
	SortBy           string
	Region           string
	IncludeAdult     bool
}

// Values renders the preferences as discover/movie query parameters.
func (p Preferences) Values() url.Values {
	params := url.Values{}
	sortBy := strings.TrimSpace(p.SortBy)
	if sortBy == "" {
		sortBy = defaultSortBy
	}
	params.Set("sort_by", sortBy)
	params.Set("include_adult", strconv.FormatBool(p.IncludeAdult))
	if ids := joinInts(p.Genres, "|"); ids != "" {
		params.Set("with_genres", ids)
	}
	if ids := joinInts(p.ExcludeGenres, ","); ids != "" {
		params.Set("without_genres", ids)
	}
	if p.MinRating > 0 {
		params.Set("vote_average.gte", strconv.FormatFloat(p.MinRating, 'f', -1, 64))
	}
	if p.MinVotes > 0 {
		params.Set("vote_count.gte", strconv.Itoa(p.MinVotes))
	}
	if p.MinYear > 0 {
		params.Set("primary_release_date.gte", strconv.Itoa(p.MinYear)+"-01-01")
	}
	if p.MaxYear > 0 {
		params.Set("primary_release_date.lte", strconv.Itoa(p.MaxYear)+"-12-31")
	}
	if lang := baseLanguage(p.OriginalLanguage); lang != "" {
		params.Set("with_original_language", lang)
	}
	if region := strings.ToUpper(strings.TrimSpace(p.Region)); region != "" {
		params.Set("region", region)
	}
	return params
}

func joinInts(values []int, sep string) string {
	parts := make([]string, 0, len(values))
	seen := make(map[int]struct{}, len(values))
	for _, v := range values {
		if v <= 0 {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		parts = append(parts, strconv.Itoa(v))
	}
	return strings.Join(parts, sep)
}

// baseLanguage reduces a tag like "pt-BR" to the ISO 639-1 code TMDB expects
// for with_original_language.
func baseLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	parsed, err := language.Parse(strings.ReplaceAll(tag, "_", "-"))
	if err != nil {
		return strings.ToLower(tag)
	}
	base, _ := parsed.Base()
	return base.String()
}

// canonicalLanguage returns the BCP 47 form used for the language parameter.
func canonicalLanguage(tag string) string {
	tag = strings.TrimSpace(strings.ReplaceAll(tag, "_", "-"))
	if tag == "" {
		return ""
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	return parsed.String()
}
