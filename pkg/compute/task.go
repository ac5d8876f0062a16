package compute

import (
	"context"
	"fmt"
)

// TaskPhase is the orchestrator-side view of one remote operation.
type TaskPhase string

const (
	PhaseStarted   TaskPhase = "STARTED"
	PhaseActive    TaskPhase = "ACTIVE"
	PhaseCompleted TaskPhase = "COMPLETED"
	PhaseFailed    TaskPhase = "FAILED"
)

// Task is a handle for one started operation plus the polling driver that
// walks it to a terminal phase. The backend offers no push notification, so
// completion is observed through timer-based re-checks.
type Task struct {
	backend Backend
	spec    OperationSpec
	handle  TaskHandle
	phase   TaskPhase

	// terminal is the backend's raw terminal state string, kept verbatim
	// for failure messages.
	terminal string
}

// Start submits the operation and returns a task in PhaseStarted.
func Start(ctx context.Context, backend Backend, spec OperationSpec) (*Task, error) {
	h, err := backend.Start(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Description, err)
	}
	return &Task{backend: backend, spec: spec, handle: h, phase: PhaseStarted}, nil
}

// Spec returns the operation this task was started with.
func (t *Task) Spec() OperationSpec { return t.spec }

// Phase returns the last observed phase.
func (t *Task) Phase() TaskPhase { return t.phase }

// TerminalState returns the backend's raw terminal state string. Only valid
// once Terminal reports true.
func (t *Task) TerminalState() string { return t.terminal }

// Poll performs a single state check and advances the phase.
func (t *Task) Poll(ctx context.Context) (TaskPhase, error) {
	active, err := t.backend.IsActive(ctx, t.handle)
	if err != nil {
		return t.phase, fmt.Errorf("poll %s: %w", t.spec.Description, err)
	}
	if active {
		t.phase = PhaseActive
		return t.phase, nil
	}

	state, err := t.backend.TerminalState(ctx, t.handle)
	if err != nil {
		return t.phase, fmt.Errorf("terminal state %s: %w", t.spec.Description, err)
	}
	t.terminal = state
	if state == StateCompleted {
		t.phase = PhaseCompleted
	} else {
		t.phase = PhaseFailed
	}
	return t.phase, nil
}

// Terminal reports whether the task has reached a final phase.
func (t *Task) Terminal() bool {
	return t.phase == PhaseCompleted || t.phase == PhaseFailed
}
