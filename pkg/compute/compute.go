// Package compute talks to the remote geospatial compute backend.
//
// The backend executes all pixel work (cloud masking, index math,
// clustering) and materializes each operation's result as a raster file in
// object storage. This package only models the orchestration contract:
// start an operation, poll whether it is still active, and read its
// terminal state. Raster semantics are entirely the backend's business.
package compute

import (
	"context"
	"encoding/json"
)

// Backend-reported terminal states. Anything else is treated as
// non-terminal noise and polling continues.
const (
	StateCompleted = "COMPLETED"
	StateFailed    = "FAILED"
)

// TaskHandle identifies one started operation on the backend.
type TaskHandle string

// OperationSpec describes one unit of remote work. The backend writes the
// resulting raster to Bucket under FilePrefix.
type OperationSpec struct {
	// Description is a human-readable label, e.g. "NDVI_2024_03".
	Description string `json:"description"`

	// Operation names the backend computation, e.g. "index:NDVI" or
	// "zones".
	Operation string `json:"operation"`

	// Geometry is the region of interest as GeoJSON.
	Geometry json.RawMessage `json:"geometry"`

	// StartDate and EndDate bound the source imagery window (inclusive
	// start, exclusive end), formatted YYYY-MM-DD.
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`

	// Bucket and FilePrefix name the output location in object storage.
	Bucket     string `json:"bucket"`
	FilePrefix string `json:"file_prefix"`

	// Scale is the output resolution in meters.
	Scale int `json:"scale"`

	// Params carries operation-specific settings (excluded land-cover
	// classes, cluster count, output CRS).
	Params map[string]any `json:"params,omitempty"`
}

// Backend is the start/poll contract the orchestrator depends on.
//
// Start is fire-and-forget: admission control and queuing are the
// backend's concern. A started operation keeps running even if this
// process dies; nobody cancels it.
type Backend interface {
	// Start submits the operation and returns its handle.
	Start(ctx context.Context, spec OperationSpec) (TaskHandle, error)

	// IsActive reports whether the operation is still pending or running.
	IsActive(ctx context.Context, h TaskHandle) (bool, error)

	// TerminalState returns the backend-reported final state once the
	// operation is no longer active.
	TerminalState(ctx context.Context, h TaskHandle) (string, error)
}
