package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/visionzones/exporter/pkg/archive"
	"github.com/visionzones/exporter/pkg/export"
)

// Home answers the root path with a usage summary and the export defaults.
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "visionzones",
		"version": h.version,
		"endpoints": map[string]string{
			"POST /start":           "submit an export job (boundary file or paddock_id + parameters)",
			"GET /status":           "job record by job_id",
			"GET /download-zip":     "stream a SUCCEEDED job's output as a zip",
			"POST /upload-boundary": "store a named paddock boundary",
			"GET /paddocks":         "list stored paddocks",
			"GET /health":           "dependency health",
		},
		"defaults": map[string]any{
			"indices":         export.DefaultIndices,
			"exclude_classes": export.DefaultExcludeClasses,
			"scale":           export.DefaultScale,
			"start_year":      export.DefaultStartYear,
			"clusters":        export.DefaultClusters,
		},
	})
}

// Version reports the build version.
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "visionzones",
		"version": h.version,
	})
}

const storageCheckTimeout = 5 * time.Second

// Health reports per-dependency checks: submission configuration and
// storage reachability. Any failing check degrades the overall status to
// 503 without hiding the passing ones.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true

	if err := h.cfg.ValidateForSubmission(); err != nil {
		checks["config"] = err.Error()
		healthy = false
	} else {
		checks["config"] = "ok"
	}

	ctx, cancel := context.WithTimeout(r.Context(), storageCheckTimeout)
	defer cancel()
	if _, err := h.store.List(ctx, archive.ListOptions{MaxKeys: 1}); err != nil {
		checks["storage"] = err.Error()
		healthy = false
	} else {
		checks["storage"] = "ok"
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status": overall,
		"checks": checks,
	})
}
