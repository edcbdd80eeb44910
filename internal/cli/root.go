// Package cli implements the command-line interface for revstore.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/kilupskalvis/revstore/internal/audit"
	"github.com/kilupskalvis/revstore/internal/config"
	"github.com/kilupskalvis/revstore/internal/core"
	"github.com/kilupskalvis/revstore/internal/metrics"
	"github.com/kilupskalvis/revstore/internal/schema"
	"github.com/kilupskalvis/revstore/internal/store"
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config   *config.Config
	Store    *store.Store
	Audit    *audit.Log
	Schema   *schema.Schema
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() error {
	var err error
	if c.Audit != nil {
		err = multierr.Append(err, c.Audit.Close())
	}
	if c.Store != nil {
		err = multierr.Append(err, c.Store.Close())
	}
	return err
}

// closeContext closes c, reporting failures on stderr.
func closeContext(c *cmdContext) {
	if err := c.Close(); err != nil {
		for _, e := range multierr.Errors(err) {
			fmt.Fprintf(os.Stderr, "warning: %v\n", e)
		}
	}
}

// initContext loads the workspace: config, schema, store and audit log.
func initContext() *cmdContext {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}

	c := &cmdContext{Config: cfg}
	c.Logger = newLogger(pick(logLevel, cfg.Log.Level), pick(logFormat, cfg.Log.Format))
	slog.SetDefault(c.Logger)

	if path := cfg.ResolvedSchemaPath(); path != "" {
		c.Schema, err = schema.Load(path)
		if err != nil {
			exitError("failed to load schema: %v", err)
		}
	} else {
		c.Schema = schema.Default()
	}

	c.Store, err = store.New(cfg.DatabasePath())
	if err != nil {
		exitError("failed to open store: %v", err)
	}
	if err := c.Store.Initialize(); err != nil {
		closeContext(c)
		exitError("failed to initialize store: %v", err)
	}

	c.Audit, err = audit.Open(cfg.AuditPath())
	if err != nil {
		closeContext(c)
		exitError("%v", err)
	}
	if err := c.Audit.Initialize(); err != nil {
		closeContext(c)
		exitError("failed to initialize audit log: %v", err)
	}

	c.Registry = prometheus.NewRegistry()
	c.Metrics = metrics.New(c.Registry)
	return c
}

// coordinator builds the commit coordinator from the workspace config.
func (c *cmdContext) coordinator() *core.Coordinator {
	mode, err := core.ParseIntegrityMode(c.Config.IntegrityMode)
	if err != nil {
		exitError("%v", err)
	}
	checker := core.NewIntegrityChecker(c.Schema, schema.SnomedCategorizer{}, mode)
	return core.NewCoordinator(c.Store, checker,
		core.WithRetry(core.RetryConfig{
			MaxAttempts: c.Config.Retry.MaxAttempts,
			MinBackoff:  c.Config.Retry.MinBackoff(),
			MaxBackoff:  c.Config.Retry.MaxBackoff(),
		}),
		core.WithAudit(c.Audit),
		core.WithMetrics(c.Metrics),
		core.WithLogger(c.Logger),
	)
}

// merger builds a merger running the dangling-reference and invalid-state rules.
func (c *cmdContext) merger() *core.Merger {
	categorizer := schema.SnomedCategorizer{}
	processor := core.NewConflictProcessor(c.Schema, core.DefaultProcessorConfig(),
		&core.DanglingReferenceRule{Schema: c.Schema, Categorizer: categorizer},
		&core.InvalidStateRule{Schema: c.Schema, Categorizer: categorizer},
	)
	return core.NewMerger(processor, c.coordinator(), c.Metrics, c.Logger)
}

// newLogger builds the slog logger for the given level and format.
func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func pick(flag, configured string) string {
	if flag != "" {
		return flag
	}
	return configured
}

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "revstore",
	Short: "Branching revision store for terminology content",
	Long: `revstore keeps terminology components (concepts, descriptions,
relationships, reference set members) in a branch-aware revision store.
Branches are edited independently and merged with conflict detection,
domain rules and commit integrity checks.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (json, text)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(branchCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(completionCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// shortID returns first 8 characters of an ID
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
