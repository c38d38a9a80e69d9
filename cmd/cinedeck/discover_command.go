package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"cinedeck/internal/deck"
)

func newDiscoverCommand(ctx *commandContext) *cobra.Command {
	var user string
	var page, limit int

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run a discovery query with the configured preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *deck.Runtime) error {
				cards, err := rt.Service.Discover(runCtx, user, page, limit)
				if err != nil {
					return err
				}
				asJSON, err := ctx.jsonOutput(cmd.OutOrStdout())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, cards)
				}
				if len(cards) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No results")
					return nil
				}
				headers, rows, aligns := cardRows(cards)
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "User whose preferences apply")
	cmd.Flags().IntVarP(&page, "page", "p", 1, "Starting page (1-500)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum results (1-200)")
	return cmd
}

func newDetailsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "details <tmdb-id>",
		Short: "Fetch details for one movie and merge them into the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid tmdb id %q", args[0])
			}
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *deck.Runtime) error {
				result := rt.Service.GetMovieDetails(runCtx, id)
				if !result.Found() {
					return fmt.Errorf("movie %d: %s: %w", id, result.Outcome, result.Err)
				}
				asJSON, err := ctx.jsonOutput(cmd.OutOrStdout())
				if err != nil {
					return err
				}
				d := result.Details
				if asJSON {
					return writeJSON(cmd, d)
				}
				genres := make([]string, 0, len(d.Genres))
				for _, g := range d.Genres {
					genres = append(genres, g.Name)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderKeyValues([][2]string{
					{"ID", strconv.FormatInt(d.ID, 10)},
					{"Title", d.Title},
					{"Released", d.ReleaseDate},
					{"Runtime", strconv.Itoa(d.Runtime) + " min"},
					{"Rating", fmt.Sprintf("%.1f (%d votes)", d.VoteAverage, d.VoteCount)},
					{"Language", d.OriginalLanguage},
					{"Genres", strings.Join(genres, ", ")},
					{"Poster", rt.Service.PosterURL(runCtx, "", d.PosterPath)},
				}))
				return nil
			})
		},
	}
}
