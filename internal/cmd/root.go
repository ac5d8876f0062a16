// Package cmd implements the visionzones CLI: serve, worker, export, and
// version commands.
package cmd

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/visionzones/exporter/internal/config"
	"github.com/visionzones/exporter/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:   "visionzones",
	Short: "Geospatial export orchestration service",
	Long: `visionzones orchestrates vegetation-index and management-zone exports:
it fans a job out into remote compute tasks, polls them to completion, and
serves the finished rasters as a zip archive.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	configFile string
	logLevel   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug|info|warn|error)")
}

// versionInfo is stamped by the linker via SetVersionInfo.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// loadConfig loads configuration honoring the persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	observability.Init(cfg.Logging.Level)
	return cfg, nil
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}

var exitCodePattern = regexp.MustCompile(`\(exit code (\d+)\)$`)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	defer observability.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if m := exitCodePattern.FindStringSubmatch(err.Error()); m != nil {
			if code, perr := strconv.Atoi(m[1]); perr == nil {
				return code
			}
		}
		return 1
	}
	return 0
}
