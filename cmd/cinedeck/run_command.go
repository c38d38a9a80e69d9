package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"cinedeck/internal/deck"
	"cinedeck/internal/jobs"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var metricsBind string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the periodic jobs in the foreground until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			bind := cfg.Jobs.MetricsBind
			if cmd.Flags().Changed("metrics-bind") {
				bind = strings.TrimSpace(metricsBind)
			}

			signalCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(signalCtx)

			reg := prometheus.NewRegistry()
			return ctx.withRuntimeMetrics(cmd, reg, func(runCtx context.Context, rt *deck.Runtime) error {
				runner, err := jobs.NewRunner(jobs.StandardJobs(cfg, rt.Service), jobs.Options{
					LockPath:    jobs.LockPath(cfg),
					MetricsBind: bind,
					Gatherer:    reg,
					Logger:      logger,
				})
				if err != nil {
					return err
				}
				if err := runner.Start(runCtx); err != nil {
					return err
				}
				defer runner.Stop()

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Running jobs: %s\n", strings.Join(runner.Jobs(), ", "))
				if addr := runner.MetricsAddr(); addr != "" {
					fmt.Fprintf(out, "Metrics on http://%s/metrics\n", addr)
				}
				<-runCtx.Done()
				fmt.Fprintln(out, "Shutting down")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&metricsBind, "metrics-bind", "", "Serve Prometheus metrics on this address (overrides config)")
	return cmd
}
