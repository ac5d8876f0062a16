// Package handlers implements the HTTP surface: job submission, status,
// archive download, paddock management, and the meta endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/visionzones/exporter/internal/config"
	apperrors "github.com/visionzones/exporter/internal/errors"
	"github.com/visionzones/exporter/pkg/archive"
	"github.com/visionzones/exporter/pkg/boundary"
	"github.com/visionzones/exporter/pkg/dispatch"
	"github.com/visionzones/exporter/pkg/export"
	"github.com/visionzones/exporter/pkg/paddock"
	"github.com/visionzones/exporter/pkg/registry"
)

// maxUploadBytes bounds boundary uploads; real-world boundary files are
// well under a megabyte.
const maxUploadBytes = 32 << 20

// Handlers carries the collaborators every endpoint needs.
type Handlers struct {
	cfg        *config.Config
	registry   registry.Registry
	dispatcher dispatch.Dispatcher
	streamer   *archive.Streamer
	paddocks   *paddock.Store
	store      archive.Store
	logger     *zap.Logger
	version    string

	now func() time.Time
}

// New wires the handler set.
func New(cfg *config.Config, reg registry.Registry, d dispatch.Dispatcher,
	streamer *archive.Streamer, paddocks *paddock.Store, store archive.Store,
	logger *zap.Logger, version string) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		cfg:        cfg,
		registry:   reg,
		dispatcher: d,
		streamer:   streamer,
		paddocks:   paddocks,
		store:      store,
		logger:     logger,
		version:    version,
		now:        time.Now,
	}
}

// startResponse is the submission reply. Status is always QUEUED: execution
// is detached and never completes synchronously.
type startResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Start accepts a multipart submission: a boundary file (field "file") or a
// stored paddock reference (field "paddock_id"), plus export parameters.
func (h *Handlers) Start(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseStartRequest(r)
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}

	// Configuration gaps are the operator's fault, not the caller's, and
	// must not create a job.
	if err := h.cfg.ValidateForSubmission(); err != nil {
		apperrors.RespondWithError(w, r,
			apperrors.Wrap(apperrors.CategoryConfig, "server is not configured for exports", err))
		return
	}

	if err := h.registry.Create(req.JobID); err != nil {
		apperrors.RespondWithError(w, r,
			apperrors.Wrap(apperrors.CategoryInternal, "failed to create job", err))
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), *req); err != nil {
		h.logger.Error("dispatch failed", zap.String("job_id", req.JobID), zap.Error(err))
		if uerr := h.registry.Update(req.JobID, registry.StateFailed,
			fmt.Sprintf("Failed to dispatch: %v", err)); uerr != nil {
			h.logger.Warn("registry update failed", zap.String("job_id", req.JobID), zap.Error(uerr))
		}
		apperrors.RespondWithError(w, r,
			apperrors.Wrap(apperrors.CategoryUnavailable, "failed to dispatch job", err))
		return
	}

	h.logger.Info("job submitted",
		zap.String("job_id", req.JobID),
		zap.String("kind", string(req.Kind)),
		zap.Int("tasks", req.TaskCount()),
		zap.String("mode", h.dispatcher.Mode()))

	writeJSON(w, http.StatusOK, startResponse{JobID: req.JobID, Status: string(registry.StateQueued)})
}

// parseStartRequest turns the multipart form into a validated export
// request. All failures here are input errors; no job exists yet.
func (h *Handlers) parseStartRequest(r *http.Request) (*export.Request, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInvalid, "invalid multipart form", err)
	}

	geometry, err := h.resolveGeometry(r)
	if err != nil {
		return nil, err
	}

	req := export.Request{
		JobID:    registry.NewJobID(h.now()),
		Kind:     export.Kind(strings.TrimSpace(r.FormValue("kind"))),
		Geometry: geometry,
	}

	if req.StartYear, err = formInt(r, "start_year"); err != nil {
		return nil, err
	}
	if req.EndYear, err = formInt(r, "end_year"); err != nil {
		return nil, err
	}
	if req.Scale, err = formInt(r, "scale"); err != nil {
		return nil, err
	}
	if req.Clusters, err = formInt(r, "k"); err != nil {
		return nil, err
	}
	req.Indices = splitCSV(r.FormValue("indices"))
	if req.ExcludeClasses, err = formIntCSV(r, "exclude_classes"); err != nil {
		return nil, err
	}

	req.Normalize(h.now())
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInvalid, "invalid export request", err)
	}
	return &req, nil
}

func (h *Handlers) resolveGeometry(r *http.Request) (json.RawMessage, error) {
	file, header, err := r.FormFile("file")
	if err == nil {
		defer file.Close()
		raw, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryInvalid, "failed to read boundary file", err)
		}
		b, err := boundary.Parse(header.Filename, raw)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryInvalid, "unparseable boundary file", err)
		}
		return b.GeoJSON()
	}

	if pid := strings.TrimSpace(r.FormValue("paddock_id")); pid != "" {
		p, err := h.paddocks.Get(r.Context(), pid)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryInternal, "failed to load paddock", err)
		}
		if p == nil {
			return nil, apperrors.New(apperrors.CategoryNotFound, "unknown paddock: "+pid)
		}
		return p.Geometry, nil
	}

	return nil, apperrors.New(apperrors.CategoryInvalid, "a boundary file or paddock_id is required")
}

// Status returns the full job record.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.URL.Query().Get("job_id"))
	if jobID == "" {
		apperrors.RespondWithError(w, r,
			apperrors.New(apperrors.CategoryInvalid, "job_id is required"))
		return
	}

	rec, err := h.registry.Get(jobID)
	if err != nil {
		apperrors.RespondWithError(w, r,
			apperrors.Wrap(apperrors.CategoryInternal, "failed to load job", err))
		return
	}
	if rec == nil {
		apperrors.RespondWithError(w, r,
			apperrors.New(apperrors.CategoryNotFound, "unknown job: "+jobID))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DownloadZip streams the job's archive.
func (h *Handlers) DownloadZip(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.URL.Query().Get("job_id"))
	if jobID == "" {
		apperrors.RespondWithError(w, r,
			apperrors.New(apperrors.CategoryInvalid, "job_id is required"))
		return
	}

	req := archive.Request{
		JobID: jobID,
		Index: strings.TrimSpace(r.URL.Query().Get("index")),
		Match: strings.TrimSpace(r.URL.Query().Get("match")),
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", req.Filename()))

	cw := &countingWriter{w: w}
	if err := h.streamer.Stream(r.Context(), cw, req); err != nil {
		if cw.n > 0 {
			// Bytes are on the wire; the client gets a truncated zip.
			h.logger.Error("archive stream aborted",
				zap.String("job_id", jobID),
				zap.Int64("bytes_sent", cw.n),
				zap.Error(err))
			return
		}
		w.Header().Del("Content-Disposition")
		apperrors.RespondWithError(w, r, archiveError(err))
	}
}

// archiveError maps streamer failures onto response categories.
func archiveError(err error) error {
	switch {
	case errors.Is(err, archive.ErrJobNotFound):
		return apperrors.Wrap(apperrors.CategoryNotFound, "unknown job", err)
	case errors.Is(err, archive.ErrJobNotReady):
		return apperrors.Wrap(apperrors.CategoryConflict, "job is not ready for download", err)
	case errors.Is(err, archive.ErrNoObjects):
		return apperrors.Wrap(apperrors.CategoryNotFound, "no output objects found", err)
	default:
		return apperrors.Wrap(apperrors.CategoryInternal, "archive assembly failed", err)
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func formInt(r *http.Request, field string) (int, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.New(apperrors.CategoryInvalid,
			fmt.Sprintf("%s must be an integer, got %q", field, raw))
	}
	return n, nil
}

func formIntCSV(r *http.Request, field string) ([]int, error) {
	parts := splitCSV(r.FormValue(field))
	if len(parts) == 0 {
		return nil, nil
	}
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, apperrors.New(apperrors.CategoryInvalid,
				fmt.Sprintf("%s must be a comma-separated list of integers, got %q", field, part))
		}
		out = append(out, n)
	}
	return out, nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
