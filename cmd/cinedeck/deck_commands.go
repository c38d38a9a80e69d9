package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cinedeck/internal/deck"
)

func newDeckCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var size string

	cmd := &cobra.Command{
		Use:   "deck <user>",
		Short: "Serve a deck from the user's pool, refilling it when low",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *deck.Runtime) error {
				movies := rt.Service.GetDeck(runCtx, args[0], limit)
				return printMovies(cmd, ctx, viewMovies(runCtx, rt.Service, size, movies))
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Deck size")
	cmd.Flags().StringVar(&size, "size", "w500", "Poster size used in URLs")
	return cmd
}

func newPoolCommand(ctx *commandContext) *cobra.Command {
	poolCmd := &cobra.Command{
		Use:   "pool",
		Short: "Inspect and manage per-user candidate pools",
	}
	poolCmd.AddCommand(newPoolShowCommand(ctx))
	poolCmd.AddCommand(newPoolFillCommand(ctx))
	poolCmd.AddCommand(newPoolClearCommand(ctx))
	return poolCmd
}

func newPoolShowCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show <user>",
		Short: "List a user's pool in deck order without refilling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *deck.Runtime) error {
				movies, err := rt.Catalog.GetPool(runCtx, args[0], limit)
				if err != nil {
					return err
				}
				return printMovies(cmd, ctx, viewMovies(runCtx, rt.Service, "", movies))
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum entries to list")
	return cmd
}

func newPoolFillCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fill <user>",
		Short: "Discover the next batch and add it to the user's pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *deck.Runtime) error {
				added, err := rt.Service.Refill(runCtx, args[0])
				if err != nil {
					return err
				}
				size, err := rt.Catalog.PoolSize(runCtx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %d candidates; pool now holds %d\n", added, size)
				return nil
			})
		},
	}
}

func newPoolClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <user>",
		Short: "Remove every pool entry for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *deck.Runtime) error {
				removed, err := rt.Service.ResetPool(runCtx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d pool entries\n", removed)
				return nil
			})
		},
	}
}

func printMovies(cmd *cobra.Command, ctx *commandContext, views []movieView) error {
	asJSON, err := ctx.jsonOutput(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(cmd, views)
	}
	if len(views) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No movies")
		return nil
	}
	headers, rows, aligns := movieRows(views)
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
	return nil
}
