package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/visionzones/exporter/internal/errors"
	"github.com/visionzones/exporter/pkg/boundary"
	"github.com/visionzones/exporter/pkg/paddock"
)

// UploadBoundary parses a boundary file and stores it as a named paddock.
func (h *Handlers) UploadBoundary(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		apperrors.RespondWithError(w, r,
			apperrors.Wrap(apperrors.CategoryInvalid, "invalid multipart form", err))
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		apperrors.RespondWithError(w, r,
			apperrors.New(apperrors.CategoryInvalid, "name is required"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		apperrors.RespondWithError(w, r,
			apperrors.New(apperrors.CategoryInvalid, "a boundary file is required"))
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		apperrors.RespondWithError(w, r,
			apperrors.Wrap(apperrors.CategoryInvalid, "failed to read boundary file", err))
		return
	}

	b, err := boundary.Parse(header.Filename, raw)
	if err != nil {
		apperrors.RespondWithError(w, r,
			apperrors.Wrap(apperrors.CategoryInvalid, "unparseable boundary file", err))
		return
	}
	geometry, err := b.GeoJSON()
	if err != nil {
		apperrors.RespondWithError(w, r,
			apperrors.Wrap(apperrors.CategoryInternal, "failed to encode boundary", err))
		return
	}

	p, err := h.paddocks.Create(r.Context(), name, geometry, b.Bounds())
	if err != nil {
		apperrors.RespondWithError(w, r,
			apperrors.Wrap(apperrors.CategoryInternal, "failed to store paddock", err))
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// ListPaddocks returns all stored paddocks.
func (h *Handlers) ListPaddocks(w http.ResponseWriter, r *http.Request) {
	all, err := h.paddocks.List(r.Context())
	if err != nil {
		apperrors.RespondWithError(w, r,
			apperrors.Wrap(apperrors.CategoryInternal, "failed to list paddocks", err))
		return
	}
	if all == nil {
		all = []*paddock.Paddock{}
	}
	writeJSON(w, http.StatusOK, all)
}

// GetPaddock returns one paddock by id.
func (h *Handlers) GetPaddock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.paddocks.Get(r.Context(), id)
	if err != nil {
		apperrors.RespondWithError(w, r,
			apperrors.Wrap(apperrors.CategoryInternal, "failed to load paddock", err))
		return
	}
	if p == nil {
		apperrors.RespondWithError(w, r,
			apperrors.New(apperrors.CategoryNotFound, "unknown paddock: "+id))
		return
	}
	writeJSON(w, http.StatusOK, p)
}
