package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cinedeck/internal/deck"
)

func newBackfillCommand(ctx *commandContext) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Fetch full details for catalog movies that only have summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *deck.Runtime) error {
				result, err := rt.Service.BackfillDetails(runCtx, batch)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %d, unavailable %d, deferred %d\n",
					result.Updated, result.Unavailable, result.Transient)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&batch, "batch", "n", 25, "Maximum movies to fetch")
	return cmd
}

func newMaintainCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Run a maintenance pass over every cache now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *deck.Runtime) error {
				report, err := rt.Service.Maintain(runCtx)
				asJSON, jsonErr := ctx.jsonOutput(cmd.OutOrStdout())
				if jsonErr != nil {
					return jsonErr
				}
				if asJSON {
					if writeErr := writeJSON(cmd, map[string]any{
						"responses_expired":  report.Responses.Expired,
						"responses_capped":   report.Responses.Capped,
						"movies_evicted":     report.Catalog.MoviesEvicted,
						"pool_trimmed":       report.Catalog.PoolTrimmed,
						"images_removed":     report.Images.Removed,
						"image_bytes_freed":  report.Images.FreedBytes,
						"image_bytes_cached": report.Images.Remaining,
					}); writeErr != nil {
						return writeErr
					}
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderKeyValues([][2]string{
					{"Responses expired", strconv.FormatInt(report.Responses.Expired, 10)},
					{"Responses capped", strconv.FormatInt(report.Responses.Capped, 10)},
					{"Movies evicted", strconv.FormatInt(report.Catalog.MoviesEvicted, 10)},
					{"Pool entries trimmed", strconv.FormatInt(report.Catalog.PoolTrimmed, 10)},
					{"Images removed", strconv.Itoa(report.Images.Removed)},
					{"Image bytes freed", humanize.IBytes(uint64(report.Images.FreedBytes))},
				}))
				return err
			})
		},
	}
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check database integrity and summarize cache contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *deck.Runtime) error {
				health, err := rt.DB.CheckHealth(runCtx)
				if err != nil {
					return err
				}
				responses, err := rt.Responses.Stats(runCtx)
				if err != nil {
					return err
				}
				catalogStats, err := rt.Catalog.Stats(runCtx)
				if err != nil {
					return err
				}
				pairs := [][2]string{
					{"Database", health.DBPath},
					{"Schema version", health.SchemaVersion},
					{"Journal mode", health.JournalMode},
					{"Integrity", yesNo(health.IntegrityCheck)},
					{"Missing tables", strings.Join(health.MissingTables, ", ")},
					{"Cached responses", strconv.Itoa(responses.Rows)},
					{"Expired responses", strconv.Itoa(responses.ExpiredRows)},
					{"Movies", strconv.FormatInt(catalogStats.Movies, 10)},
					{"Movies with details", strconv.FormatInt(catalogStats.WithDetails, 10)},
					{"Pending details", strconv.FormatInt(catalogStats.PendingDetail, 10)},
					{"Pool entries", strconv.FormatInt(catalogStats.PoolEntries, 10)},
					{"Users", strconv.FormatInt(catalogStats.Users, 10)},
				}
				if rt.Images != nil {
					images, err := rt.Images.Stats(runCtx)
					if err != nil {
						return err
					}
					pairs = append(pairs,
						[2]string{"Cached images", strconv.FormatInt(images.Entries, 10)},
						[2]string{"Image bytes", humanize.IBytes(uint64(images.Bytes))},
					)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderKeyValues(pairs))
				if !health.OK() {
					return fmt.Errorf("database unhealthy: %s", health.DBPath)
				}
				return nil
			})
		},
	}
}
