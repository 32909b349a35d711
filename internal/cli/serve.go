package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/evenscribe/umem/internal/mcpserver"
	"github.com/evenscribe/umem/internal/observability"
	"github.com/evenscribe/umem/internal/tracing"
	"github.com/evenscribe/umem/pkg/ingest"
	"github.com/evenscribe/umem/pkg/memory"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the umem MCP server",
	Long: `Run the memory server. Tools are exposed over MCP (stdio by default,
streamable HTTP with --transport http), Prometheus metrics over a
separate HTTP port, and configured watch directories are ingested in
the background.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	log := rt.log.GetZerolog()

	if err := tracing.InitOpenTelemetry("umem"); err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			tracing.ShutdownOpenTelemetry(shutdownCtx)
		}()
	}

	// Reconciliation sweep.
	if rt.cfg.Sweep.Enabled {
		sweeper := memory.NewSweeper(rt.store, rt.index, log)
		if err := sweeper.Start(rt.cfg.Sweep.Schedule); err != nil {
			return fmt.Errorf("failed to start sweeper: %w", err)
		}
		defer sweeper.Stop()
	}

	// Watched ingest directories.
	if len(rt.cfg.Ingest.WatchDirs) > 0 {
		watcher, err := ingest.NewWatcher(ingest.WatcherConfig{
			Store:    rt.store,
			TenantID: rt.cfg.Ingest.TenantID,
			Debounce: time.Duration(rt.cfg.Ingest.DebounceMS) * time.Millisecond,
			Logger:   log,
		})
		if err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer watcher.Stop()
		for _, dir := range rt.cfg.Ingest.WatchDirs {
			if err := watcher.Watch(dir); err != nil {
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}
			log.Info().Str("dir", dir).Msg("Watching directory")
		}
	}

	// Prometheus metrics endpoint.
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", rt.cfg.Server.Host, rt.cfg.Server.MetricsPort),
		Handler:           observability.MetricsHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutdownCtx)
	}()

	extractor := ingest.NewExtractor(log)
	defer extractor.Close()

	server, err := mcpserver.NewServer(mcpserver.Config{
		Store:     rt.store,
		Engine:    rt.engine,
		Extractor: extractor,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	switch rt.cfg.Server.Transport {
	case "http":
		addr := fmt.Sprintf("%s:%d", rt.cfg.Server.Host, rt.cfg.Server.Port)
		log.Info().Str("addr", addr).Msg("Serving MCP over HTTP")
		return server.RunHTTP(ctx, addr)
	default:
		log.Info().Msg("Serving MCP over stdio")
		return server.Run(ctx)
	}
}
