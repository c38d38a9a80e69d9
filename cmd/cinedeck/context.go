package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"cinedeck/internal/config"
	"cinedeck/internal/deck"
	"cinedeck/internal/logging"
	"cinedeck/internal/metrics"
)

type commandContext struct {
	configFlag *string
	outputFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, outputFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		outputFlag: outputFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// withRuntime opens the full stack for one command and closes it afterwards.
func (c *commandContext) withRuntime(cmd *cobra.Command, fn func(context.Context, *deck.Runtime) error) error {
	return c.withRuntimeMetrics(cmd, nil, fn)
}

func (c *commandContext) withRuntimeMetrics(cmd *cobra.Command, reg prometheus.Registerer, fn func(context.Context, *deck.Runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.logger()
	if err != nil {
		return err
	}
	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := deck.Open(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

// jsonOutput reports whether results should be printed as JSON. In auto mode
// JSON is used whenever stdout is not a terminal.
func (c *commandContext) jsonOutput(out io.Writer) (bool, error) {
	mode := "auto"
	if c.outputFlag != nil {
		mode = strings.ToLower(strings.TrimSpace(*c.outputFlag))
	}
	switch mode {
	case "json":
		return true, nil
	case "table":
		return false, nil
	case "", "auto":
		return !isTerminal(out), nil
	default:
		return false, fmt.Errorf("unknown output format %q (use auto, table, or json)", mode)
	}
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
