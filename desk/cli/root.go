// Package cli implements the deskd commands.
package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/config"
	deskdb "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/db"
	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/metrics"
	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration"
)

var (
	cfgFile  string
	logLevel string

	cfg    *config.Config
	logger zerolog.Logger
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:           "deskd",
	Short:         "Help desk conversation orchestration engine",
	Long:          "Answers help desk questions from a markdown knowledge base, refuses unsafe requests, classifies each turn into a support tier and opens tickets on escalation.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is normal outside development.
		_ = godotenv.Load()

		loaded, err := config.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		cfg = loaded

		logger, err = newLogger(cfg.Log, cmd.ErrOrStderr())
		return err
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default: ./config.yaml, then the user config dir)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
}

// Execute runs the root command and reports the error on stderr.
func Execute(ctx context.Context) int {
	if err := RootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func newLogger(lc config.LogConfig, w io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if lc.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(lc.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log.level %q: %w", lc.Level, err)
		}
		level = parsed
	}

	switch lc.Format {
	case "", "json":
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("log.format must be json or console, got %q", lc.Format)
	}

	return zerolog.New(w).Level(level).With().Timestamp().Str("app", "deskd").Logger(), nil
}

func openDB(ctx context.Context) (*sql.DB, error) {
	return deskdb.Open(ctx, deskdb.Options{
		Driver:       cfg.Database.Driver,
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		Logger:       logger,
	})
}

// newCollector returns nil when metrics are disabled.
func newCollector() *metrics.Collector {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.NewCollector(cfg.Metrics.Namespace, cfg.Metrics.Window)
}

func newEngine(ctx context.Context, db *sql.DB, collector *metrics.Collector) (*orchestration.Components, error) {
	var observer orchestration.Observer
	if collector != nil {
		observer = collector
	}
	return orchestration.NewFactory(cfg, db, logger).CreateEngine(ctx, nil, observer)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
