package tmdb

import "fmt"

// Card is one discovery result.
type Card struct {
	ID               int64   `json:"id"`
	Title            string  `json:"title"`
	OriginalTitle    string  `json:"original_title"`
	Overview         string  `json:"overview"`
	PosterPath       string  `json:"poster_path"`
	BackdropPath     string  `json:"backdrop_path"`
	ReleaseDate      string  `json:"release_date"`
	OriginalLanguage string  `json:"original_language"`
	VoteAverage      float64 `json:"vote_average"`
	VoteCount        int64   `json:"vote_count"`
	Popularity       float64 `json:"popularity"`
	GenreIDs         []int   `json:"genre_ids"`
}

// Genre is a TMDB genre.
type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Details is the single-movie document.
type Details struct {
	ID               int64   `json:"id"`
	Title            string  `json:"title"`
	OriginalTitle    string  `json:"original_title"`
	Overview         string  `json:"overview"`
	Tagline          string  `json:"tagline"`
	PosterPath       string  `json:"poster_path"`
	BackdropPath     string  `json:"backdrop_path"`
	ReleaseDate      string  `json:"release_date"`
	OriginalLanguage string  `json:"original_language"`
	VoteAverage      float64 `json:"vote_average"`
	VoteCount        int64   `json:"vote_count"`
	Runtime          int     `json:"runtime"`
	Genres           []Genre `json:"genres"`
}

type discoverPage struct {
	Page         int    `json:"page"`
	TotalPages   int    `json:"total_pages"`
	TotalResults int    `json:"total_results"`
	Results      []Card `json:"results"`
}

// Outcome classifies a single-item lookup.
type Outcome int

const (
	// OutcomeFound means Details is populated.
	OutcomeFound Outcome = iota
	// OutcomeNotFound covers 404 and other permanent 4xx answers.
	OutcomeNotFound
	// OutcomeMalformed means the upstream answered 200 with an unusable body.
	OutcomeMalformed
	// OutcomeTransient covers 5xx, 429, timeouts and connection failures
	// that survived the retry stage.
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeTransient:
		return "transient"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// DiscoverResult is the outcome of one discovery walk.
type DiscoverResult struct {
	Cards []Card
	// NextPage is the first page the walk did not read, or 0 once the
	// upstream has no further pages.
	NextPage int
}

// DetailsResult is the answer to GetMovieDetails. Details is non-nil only
// when Outcome is OutcomeFound; Err describes the other outcomes.
type DetailsResult struct {
	Outcome Outcome
	Details *Details
	Err     error
}

// Found reports whether details were returned.
func (r DetailsResult) Found() bool {
	return r.Outcome == OutcomeFound && r.Details != nil
}
