package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cinedeck/internal/catalog"
	"cinedeck/internal/deck"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the runtime size settings",
	}
	settingsCmd.AddCommand(newSettingsGetCommand(ctx))
	settingsCmd.AddCommand(newSettingsSetCommand(ctx))
	return settingsCmd
}

func newSettingsGetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the persisted settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *deck.Runtime) error {
				settings, err := rt.Catalog.GetSettings(runCtx)
				if err != nil {
					return err
				}
				return printSettings(cmd, ctx, settings)
			})
		},
	}
}

func newSettingsSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key=value>...",
		Short: "Update settings (max_movies, max_pool_per_user, image_cache_max_bytes, poster_mode)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(runCtx context.Context, rt *deck.Runtime) error {
				settings, err := rt.Catalog.GetSettings(runCtx)
				if err != nil {
					return err
				}
				for _, arg := range args {
					if err := applySetting(&settings, arg); err != nil {
						return err
					}
				}
				if err := rt.Service.SetSettings(runCtx, settings); err != nil {
					return err
				}
				return printSettings(cmd, ctx, settings)
			})
		},
	}
}

func applySetting(settings *catalog.Settings, arg string) error {
	key, value, ok := strings.Cut(arg, "=")
	if !ok {
		return fmt.Errorf("expected key=value, got %q", arg)
	}
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)
	switch key {
	case "max_movies":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("max_movies: %w", err)
		}
		settings.MaxMovies = n
	case "max_pool_per_user":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("max_pool_per_user: %w", err)
		}
		settings.MaxPoolPerUser = n
	case "image_cache_max_bytes":
		n, err := humanize.ParseBytes(value)
		if err != nil {
			return fmt.Errorf("image_cache_max_bytes: %w", err)
		}
		settings.ImageCacheMaxBytes = int64(n)
	case "poster_mode":
		mode, err := catalog.ParsePosterMode(value)
		if err != nil {
			return err
		}
		settings.PosterMode = mode
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

func printSettings(cmd *cobra.Command, ctx *commandContext, settings catalog.Settings) error {
	asJSON, err := ctx.jsonOutput(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(cmd, map[string]any{
			"max_movies":            settings.MaxMovies,
			"max_pool_per_user":     settings.MaxPoolPerUser,
			"image_cache_max_bytes": settings.ImageCacheMaxBytes,
			"poster_mode":           settings.PosterMode,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderKeyValues([][2]string{
		{"max_movies", strconv.Itoa(settings.MaxMovies)},
		{"max_pool_per_user", strconv.Itoa(settings.MaxPoolPerUser)},
		{"image_cache_max_bytes", humanize.IBytes(uint64(settings.ImageCacheMaxBytes))},
		{"poster_mode", string(settings.PosterMode)},
	}))
	return nil
}
