package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/visionzones/exporter/pkg/dispatch"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a queue worker",
	Long: `Consume export jobs from the configured queue and run them to
completion. Requires queue.url; job records are shared with the API server
through the same Redis instance.

Example:
  visionzones worker --config visionzones.yaml`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	if cfg.Queue.URL == "" {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration",
			fmt.Errorf("queue.url is required for worker mode"))
	}
	logger := serverLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, closeRegistry, err := buildRegistry(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid queue configuration", err)
	}
	defer closeRegistry()

	run, err := buildRunner(cfg, reg, logger)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid compute configuration", err)
	}

	worker, err := dispatch.NewWorker(cfg.Queue.URL, run, logger)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid queue configuration", err)
	}

	logger.Info("Starting worker",
		zap.String("queue", cfg.Queue.URL),
		zap.String("version", versionInfo.Version))

	workerErr := make(chan error, 1)
	go func() {
		workerErr <- worker.Run()
	}()

	select {
	case err := <-workerErr:
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Worker failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down worker")
	worker.Shutdown()
	return nil
}
