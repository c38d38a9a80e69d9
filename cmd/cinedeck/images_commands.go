package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cinedeck/internal/deck"
)

func newImagesCommand(ctx *commandContext) *cobra.Command {
	imagesCmd := &cobra.Command{
		Use:   "images",
		Short: "Manage the local image cache",
	}
	imagesCmd.AddCommand(newImagesFetchCommand(ctx))
	imagesCmd.AddCommand(newImagesPruneCommand(ctx))
	imagesCmd.AddCommand(newImagesStatsCommand(ctx))
	return imagesCmd
}

func newImagesFetchCommand(ctx *commandContext) *cobra.Command {
	var size string
	cmd := &cobra.Command{
		Use:   "fetch <path>...",
		Short: "Download images into the cache (or confirm they are cached)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *deck.Runtime) error {
				out := cmd.OutOrStdout()
				failed := 0
				for _, p := range args {
					image, ok, err := rt.Images.GetOrFetch(runCtx, size, p)
					if err != nil {
						return err
					}
					if !ok {
						failed++
						fmt.Fprintf(out, "%s: unavailable\n", p)
						continue
					}
					fmt.Fprintf(out, "%s: %s (%s, %s)\n", p, image.FilePath, image.ContentType, humanize.IBytes(uint64(image.Bytes)))
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d images could not be fetched", failed, len(args))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&size, "size", "", "Image size (default original)")
	return cmd
}

func newImagesPruneCommand(ctx *commandContext) *cobra.Command {
	var budget string
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Evict least-recently-used images until the cache fits its budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *deck.Runtime) error {
				settings, err := rt.Catalog.GetSettings(runCtx)
				if err != nil {
					return err
				}
				maxBytes := settings.ImageCacheMaxBytes
				if budget != "" {
					parsed, err := humanize.ParseBytes(budget)
					if err != nil {
						return fmt.Errorf("invalid budget %q: %w", budget, err)
					}
					maxBytes = int64(parsed)
				}
				result, err := rt.Images.Prune(runCtx, maxBytes)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d images, freed %s; %s cached (budget %s)\n",
					result.Removed,
					humanize.IBytes(uint64(result.FreedBytes)),
					humanize.IBytes(uint64(result.Remaining)),
					humanize.IBytes(uint64(maxBytes)),
				)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&budget, "max", "", "Override the budget, e.g. 200MiB")
	return cmd
}

func newImagesStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show image cache usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *deck.Runtime) error {
				stats, err := rt.Images.Stats(runCtx)
				if err != nil {
					return err
				}
				settings, err := rt.Catalog.GetSettings(runCtx)
				if err != nil {
					return err
				}
				asJSON, err := ctx.jsonOutput(cmd.OutOrStdout())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, map[string]any{
						"entries":        stats.Entries,
						"bytes":          stats.Bytes,
						"budget_bytes":   settings.ImageCacheMaxBytes,
						"dir":            stats.Dir,
						"fs_free_bytes":  stats.FreeBytes,
						"fs_total_bytes": stats.TotalBytes,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderKeyValues([][2]string{
					{"Directory", stats.Dir},
					{"Entries", strconv.FormatInt(stats.Entries, 10)},
					{"Cached", humanize.IBytes(uint64(stats.Bytes))},
					{"Budget", humanize.IBytes(uint64(settings.ImageCacheMaxBytes))},
					{"Filesystem free", humanize.IBytes(stats.FreeBytes)},
				}))
				return nil
			})
		},
	}
}
