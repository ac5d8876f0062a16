// Package export plans and executes one job's remote export work.
//
// A job decomposes into one remote operation per index and month (indices
// jobs) or a single clustering run (zones jobs). The pipeline starts every
// operation, polls the set to terminal states, and reports exactly one
// SUCCEEDED or FAILED to the job registry.
package export

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Kind selects the export flavor.
type Kind string

const (
	// KindIndices exports one monthly composite raster per index.
	KindIndices Kind = "indices"

	// KindZones exports a single management-zone clustering raster.
	KindZones Kind = "zones"
)

// DefaultIndices is the full index catalog, used when a request names none.
var DefaultIndices = []string{"NDVI", "EVI", "SAVI", "NDRE", "NDWI", "NDMI", "NBR"}

// DefaultExcludeClasses are the WorldCover land-cover classes masked out by
// default: trees (10), water (80), built-up (50).
var DefaultExcludeClasses = []int{10, 80, 50}

const (
	// DefaultScale is the output resolution in meters.
	DefaultScale = 10

	// DefaultStartYear is assumed when a request gives no start year.
	DefaultStartYear = 2018

	// DefaultClusters is the zone count for clustering exports.
	DefaultClusters = 5
)

// Request describes one job's export parameters after input validation.
type Request struct {
	JobID string `json:"job_id"`
	Kind  Kind   `json:"kind"`

	// Geometry is the boundary as a GeoJSON FeatureCollection.
	Geometry json.RawMessage `json:"geometry"`

	StartYear int `json:"start_year"`
	EndYear   int `json:"end_year"`

	// Indices to export (indices kind). Upper-cased members of
	// DefaultIndices.
	Indices []string `json:"indices,omitempty"`

	// ExcludeClasses are WorldCover classes masked out of source imagery.
	ExcludeClasses []int `json:"exclude_classes,omitempty"`

	// Scale is the output resolution in meters.
	Scale int `json:"scale,omitempty"`

	// Clusters is the zone count (zones kind).
	Clusters int `json:"clusters,omitempty"`
}

// Normalize fills defaults in place. now provides the current-year default
// for EndYear.
func (r *Request) Normalize(now time.Time) {
	if r.Kind == "" {
		r.Kind = KindIndices
	}
	if r.StartYear == 0 {
		r.StartYear = DefaultStartYear
	}
	if r.EndYear == 0 {
		r.EndYear = now.UTC().Year()
	}
	if len(r.Indices) == 0 {
		r.Indices = slices.Clone(DefaultIndices)
	}
	for i, idx := range r.Indices {
		r.Indices[i] = strings.ToUpper(strings.TrimSpace(idx))
	}
	if len(r.ExcludeClasses) == 0 {
		r.ExcludeClasses = slices.Clone(DefaultExcludeClasses)
	}
	if r.Scale <= 0 {
		r.Scale = DefaultScale
	}
	if r.Clusters <= 0 {
		r.Clusters = DefaultClusters
	}
}

// Validate checks a normalized request.
func (r *Request) Validate() error {
	if r.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	if r.Kind != KindIndices && r.Kind != KindZones {
		return fmt.Errorf("unknown export kind: %s", r.Kind)
	}
	if len(r.Geometry) == 0 {
		return fmt.Errorf("geometry is required")
	}
	if r.StartYear > r.EndYear {
		return fmt.Errorf("start year %d is after end year %d", r.StartYear, r.EndYear)
	}
	if r.StartYear < 2015 {
		// Sentinel-2 imagery begins mid-2015.
		return fmt.Errorf("start year %d predates available imagery", r.StartYear)
	}
	for _, idx := range r.Indices {
		if !slices.Contains(DefaultIndices, idx) {
			return fmt.Errorf("unknown index: %s", idx)
		}
	}
	return nil
}

// TaskCount returns the number of remote operations the request fans out
// into, without materializing them.
func (r *Request) TaskCount() int {
	if r.Kind == KindZones {
		return 1
	}
	years := r.EndYear - r.StartYear + 1
	return years * 12 * len(r.Indices)
}
