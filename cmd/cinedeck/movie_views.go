package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"cinedeck/internal/catalog"
	"cinedeck/internal/deck"
	"cinedeck/internal/tmdb"
)

type movieView struct {
	ID        int64    `json:"id"`
	Title     string   `json:"title"`
	Year      int      `json:"year,omitempty"`
	Rating    float64  `json:"rating,omitempty"`
	Runtime   int      `json:"runtime,omitempty"`
	Genres    []string `json:"genres,omitempty"`
	PosterURL string   `json:"poster_url,omitempty"`
	Details   bool     `json:"details"`
}

func viewMovies(ctx context.Context, svc *deck.Service, size string, movies []catalog.Movie) []movieView {
	views := make([]movieView, 0, len(movies))
	for _, m := range movies {
		view := movieView{ID: m.ID, Title: m.DisplayTitle(), Genres: m.Genres, Details: m.HasDetails()}
		if m.ReleaseYear != nil {
			view.Year = *m.ReleaseYear
		}
		if m.Rating != nil {
			view.Rating = *m.Rating
		}
		if m.Runtime != nil {
			view.Runtime = *m.Runtime
		}
		if m.PosterPath != nil {
			view.PosterURL = svc.PosterURL(ctx, size, *m.PosterPath)
		}
		views = append(views, view)
	}
	return views
}

func movieRows(views []movieView) ([]string, [][]string, []columnAlignment) {
	headers := []string{"#", "ID", "Title", "Year", "Rating", "Details", "Poster"}
	rows := make([][]string, 0, len(views))
	for i, v := range views {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			strconv.FormatInt(v.ID, 10),
			v.Title,
			yearText(v.Year),
			ratingText(v.Rating),
			yesNo(v.Details),
			v.PosterURL,
		})
	}
	return headers, rows, []columnAlignment{alignRight, alignRight, alignLeft, alignRight, alignRight, alignLeft, alignLeft}
}

func cardRows(cards []tmdb.Card) ([]string, [][]string, []columnAlignment) {
	headers := []string{"#", "ID", "Title", "Released", "Rating", "Genres"}
	rows := make([][]string, 0, len(cards))
	for i, c := range cards {
		genres := make([]string, 0, len(c.GenreIDs))
		for _, id := range c.GenreIDs {
			genres = append(genres, strconv.Itoa(id))
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			strconv.FormatInt(c.ID, 10),
			c.Title,
			c.ReleaseDate,
			ratingText(c.VoteAverage),
			strings.Join(genres, ","),
		})
	}
	return headers, rows, []columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight, alignLeft}
}

func yearText(year int) string {
	if year <= 0 {
		return "-"
	}
	return strconv.Itoa(year)
}

func ratingText(rating float64) string {
	if rating <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f", rating)
}
