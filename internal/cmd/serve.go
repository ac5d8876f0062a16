package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/visionzones/exporter/internal/server"
	"github.com/visionzones/exporter/pkg/dispatch"
	"github.com/visionzones/exporter/pkg/paddock"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the export API server",
	Long: `Run the HTTP API: job submission, status, zip downloads, and paddock
management.

With queue.url configured, submitted jobs are enqueued for worker processes;
otherwise they run in an in-process pool.

Example:
  visionzones serve --config visionzones.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	logger := serverLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := newLazyStore(cfg)
	defer store.Close()

	reg, closeRegistry, err := buildRegistry(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid queue configuration", err)
	}
	defer closeRegistry()

	run := buildLazyRunner(cfg, reg, logger)

	dispatcher := dispatch.Select(cfg.Queue.URL, run, logger)
	defer dispatcher.Close()

	paddocks, err := paddock.Open(ctx, cfg.Paddocks.Path)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to open paddock store", err)
	}
	defer paddocks.Close()

	srv := server.New(server.Dependencies{
		Config:     cfg,
		Registry:   reg,
		Dispatcher: dispatcher,
		Store:      store,
		Paddocks:   paddocks,
		Logger:     logger,
		Version:    versionInfo.Version,
	})

	logger.Info("Starting server",
		zap.String("addr", srv.Addr()),
		zap.String("dispatch_mode", dispatcher.Mode()),
		zap.String("storage_provider", cfg.Storage.Provider),
		zap.String("version", versionInfo.Version))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("Shutdown incomplete", zap.Error(err))
	}
	return nil
}
