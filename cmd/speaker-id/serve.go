package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	speakerid "github.com/snarg/speaker-id"
	"github.com/snarg/speaker-id/internal/api"
	"github.com/snarg/speaker-id/internal/inbox"
	"github.com/snarg/speaker-id/internal/metrics"
	"github.com/snarg/speaker-id/internal/speaker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service (default)",
	Long: `Serve exposes the enrollment and identification API over HTTP.

When CORPUS_DIR is set the corpus is bulk loaded in the background at
startup; when INBOX_DIR is set the directory is watched for new samples.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flags.CorpusDir, "corpus", "", "bulk corpus to load at startup (overrides CORPUS_DIR)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	startTime := time.Now()

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, os.Stdout, true)
	if err != nil {
		return err
	}
	defer a.close()
	log := a.log
	cfg := a.cfg
	log.Info().Str("version", version).Msg("speaker-id starting")

	// Scrape-time gauges
	var events metrics.EventStats
	if a.mqtt != nil {
		events = a.mqtt
	}
	collector := metrics.NewCollector(a.store, nil, events)
	if a.db != nil {
		collector = metrics.NewCollector(a.store, a.db.Pool, events)
	}
	prometheus.MustRegister(collector)

	// Bulk corpus
	if cfg.CorpusDir != "" {
		go func() {
			report, err := speaker.BulkLoad(ctx, a.store, cfg.CorpusDir, speaker.BulkOptions{
				IDPrefix:        cfg.CorpusIDPrefix,
				SamplesPerGroup: cfg.CorpusSamplesPerGroup,
				Log:             log,
			})
			metrics.ObserveImport(report, err)
			if err != nil {
				log.Error().Err(err).Str("corpus", cfg.CorpusDir).Msg("bulk load failed")
			}
		}()
	}

	// Enrollment inbox
	var watcher api.WatcherStatusProvider
	if cfg.InboxDir != "" {
		w := inbox.New(a.store, inbox.Options{Dir: cfg.InboxDir, Log: log})
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
		watcher = w
	}

	// HTTP Server
	srv := api.NewServer(api.ServerOptions{
		Config:      cfg,
		Store:       a.store,
		Engine:      a.engine,
		DB:          a.db,
		MQTT:        a.mqtt,
		Inbox:       watcher,
		Samples:     a.samples,
		StorageType: a.samples.Type(),
		OpenAPISpec: speakerid.OpenAPISpec,
		Version:     version,
		StartTime:   startTime,
		Log:         log.With().Str("component", "http").Logger(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error().Err(serveErr).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("speaker-id stopped")
	return serveErr
}
