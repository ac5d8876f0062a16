// Command visionzones is the entrypoint for the export orchestration
// service and its CLI.
package main

import (
	"os"

	"github.com/visionzones/exporter/internal/cmd"
)

// Stamped at build time via -ldflags.
var (
	version   = "dev"
	commit    = "HEAD"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	os.Exit(cmd.Execute())
}
