package cmd

import (
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/visionzones/exporter/internal/observability"
	"github.com/visionzones/exporter/pkg/export"
	"github.com/visionzones/exporter/pkg/registry"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Run one export job from a manifest",
	Long: `Run a single export job as defined in a YAML or JSON manifest file,
in-process, without the API server or queue. Blocks until the job reaches a
terminal state.

The manifest specifies the boundary geometry, export kind, year range, and
index selection.

Example:
  visionzones export --job paddock.yaml
  visionzones export --job paddock.yaml --job-id job_custom`,
	RunE: runExport,
}

var (
	exportJobPath string
	exportJobID   string
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportJobPath, "job", "j", "", "Path to job manifest (required)")
	exportCmd.Flags().StringVar(&exportJobID, "job-id", "", "Override the generated job id")

	_ = exportCmd.MarkFlagRequired("job")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	if err := cfg.ValidateForSubmission(); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	m, err := export.LoadManifest(exportJobPath)
	if err != nil {
		observability.CLILogger.Error("Failed to load manifest",
			zap.String("path", exportJobPath),
			zap.Error(err))
		return exitError(foundry.ExitFileReadError, "Invalid manifest", err)
	}

	jobID := exportJobID
	if jobID == "" {
		jobID = registry.NewJobID(time.Now())
	}
	req, err := m.Request(jobID, time.Now())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}

	reg := registry.NewMemory()
	if err := reg.Create(jobID); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to create job", err)
	}

	run, err := buildRunner(cfg, reg, observability.CLILogger)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid compute configuration", err)
	}

	observability.CLILogger.Info("Starting export",
		zap.String("job_id", jobID),
		zap.String("kind", string(req.Kind)),
		zap.Int("tasks", req.TaskCount()))

	run(cmd.Context(), req)

	rec, err := reg.Get(jobID)
	if err != nil || rec == nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Export finished without a job record", err)
	}

	observability.CLILogger.Info("Export finished",
		zap.String("job_id", jobID),
		zap.String("state", string(rec.State)),
		zap.String("message", rec.Message))

	if rec.State != registry.StateSucceeded {
		return exitError(foundry.ExitExternalServiceUnavailable, "Export failed",
			fmt.Errorf("%s: %s", rec.State, rec.Message))
	}
	fmt.Println(rec.Message)
	return nil
}
