package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/api"
	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/knowledge"
	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/metrics"
	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/adapters"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().Bool("watch", false, "Re-ingest knowledge base files as they change (overrides knowledge.watch)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if cmd.Flags().Changed("watch") {
		cfg.Knowledge.Watch, _ = cmd.Flags().GetBool("watch")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	collector := newCollector()
	components, err := newEngine(ctx, db, collector)
	if err != nil {
		return err
	}

	ingester, err := knowledge.NewIngester(db, cfg.Knowledge.Dir, knowledgeOptions())
	if err != nil {
		logger.Warn().Err(err).Str("dir", cfg.Knowledge.Dir).Msg("Knowledge directory unavailable; reindexing disabled")
	} else if purger, ok := components.Cache.(interface{ Purge() }); ok {
		ingester.OnChange(purger.Purge)
	}

	server, err := api.NewServer(api.Deps{
		Engine:       components.Engine,
		Tickets:      components.Tickets,
		Reporter:     metrics.NewReporter(db, collector),
		Collector:    collector,
		Index:        adapters.NewFTSRetriever(db, logger),
		Ingester:     ingester,
		MetricsPath:  cfg.Metrics.Path,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info().Msg("Shutting down HTTP server")
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.Knowledge.Watch && ingester != nil {
		watcher := knowledge.NewWatcher(ingester, cfg.Knowledge.Debounce, logger)
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("Server stopped")
	return nil
}

func knowledgeOptions() knowledge.Options {
	return knowledge.Options{
		Chunker:     knowledge.Chunker{Target: cfg.Knowledge.ChunkTarget, Max: cfg.Knowledge.ChunkMax},
		Concurrency: cfg.Knowledge.Concurrency,
		IgnoreFile:  cfg.Knowledge.IgnoreFile,
		Logger:      logger,
	}
}
