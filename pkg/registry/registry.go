// Package registry tracks the lifecycle of export jobs.
//
// A job record moves QUEUED -> RUNNING -> SUCCEEDED or FAILED and never
// transitions out of a terminal state. The registry is the only mutable
// state shared between the request path and job execution; all mutation
// goes through Update.
//
// Two implementations exist: Memory for single-process deployments, and
// Redis for deployments where separate worker processes execute jobs that
// the API process created.
package registry

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of an export job.
//
// NOTE: These values are returned verbatim by the status endpoint and are
// part of the stable API contract.
type State string

const (
	StateQueued    State = "QUEUED"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
)

// IsTerminal returns true for states that permit no further transition.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Record is one job's registry entry.
//
// The record does not track the job's individual remote tasks; those are
// local state of the export pipeline for the duration of one execution.
type Record struct {
	JobID     string    `json:"job_id"`
	State     State     `json:"state"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registry is the contract shared by all implementations.
type Registry interface {
	// Create inserts a new record in StateQueued. Creating an id that
	// already exists overwrites the previous record; id generation makes
	// collisions effectively impossible within a process lifetime.
	Create(jobID string) error

	// Update sets state, message, and updated_at atomically. Updating an
	// unknown job is a silent no-op so a transient worker can report on a
	// job a restarted registry no longer knows. Updating a job already in
	// a terminal state is also a no-op.
	Update(jobID string, state State, message string) error

	// Get returns the record, or (nil, nil) when the job is unknown.
	Get(jobID string) (*Record, error)
}

// NewJobID generates a sortable, collision-resistant job identifier.
//
// The UTC timestamp keeps ids ordered by submission time and doubles as the
// job's object-storage namespace; the uuid fragment disambiguates
// submissions that land within the same second.
func NewJobID(now time.Time) string {
	frag := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return "job_" + now.UTC().Format("20060102_150405") + "_" + frag
}
