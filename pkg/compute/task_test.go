package compute

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend serves scripted poll answers per handle.
type fakeBackend struct {
	nextID     int
	activeFor  map[TaskHandle]int // polls to answer active before going terminal
	terminal   map[TaskHandle]string
	startErr   error
	pollErr    error
	startCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		activeFor: make(map[TaskHandle]int),
		terminal:  make(map[TaskHandle]string),
	}
}

func (f *fakeBackend) Start(ctx context.Context, spec OperationSpec) (TaskHandle, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.startCalls++
	f.nextID++
	h := TaskHandle(fmt.Sprintf("task-%d", f.nextID))
	if _, ok := f.terminal[h]; !ok {
		f.terminal[h] = StateCompleted
	}
	return h, nil
}

func (f *fakeBackend) IsActive(ctx context.Context, h TaskHandle) (bool, error) {
	if f.pollErr != nil {
		return false, f.pollErr
	}
	if f.activeFor[h] > 0 {
		f.activeFor[h]--
		return true, nil
	}
	return false, nil
}

func (f *fakeBackend) TerminalState(ctx context.Context, h TaskHandle) (string, error) {
	return f.terminal[h], nil
}

func TestStart_SetsPhaseStarted(t *testing.T) {
	b := newFakeBackend()

	task, err := Start(context.Background(), b, OperationSpec{Description: "NDVI_2024_01"})
	require.NoError(t, err)
	assert.Equal(t, PhaseStarted, task.Phase())
	assert.Equal(t, "NDVI_2024_01", task.Spec().Description)
}

func TestStart_BackendError(t *testing.T) {
	b := newFakeBackend()
	b.startErr = fmt.Errorf("quota exceeded")

	_, err := Start(context.Background(), b, OperationSpec{Description: "NDVI_2024_01"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NDVI_2024_01")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestTask_PollTransitions(t *testing.T) {
	b := newFakeBackend()
	task, err := Start(context.Background(), b, OperationSpec{Description: "op"})
	require.NoError(t, err)

	b.activeFor["task-1"] = 2

	phase, err := task.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseActive, phase)

	phase, err = task.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseActive, phase)

	phase, err = task.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, phase)
	assert.Equal(t, StateCompleted, task.TerminalState())
}

func TestTask_PollFailedState(t *testing.T) {
	b := newFakeBackend()
	b.terminal["task-1"] = "CANCELLED"

	task, err := Start(context.Background(), b, OperationSpec{Description: "op"})
	require.NoError(t, err)

	phase, err := task.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, phase)
	// The raw backend state is preserved for the job's failure message.
	assert.Equal(t, "CANCELLED", task.TerminalState())
}

func TestTask_Terminal(t *testing.T) {
	b := newFakeBackend()
	task, err := Start(context.Background(), b, OperationSpec{Description: "op"})
	require.NoError(t, err)

	b.activeFor["task-1"] = 1

	assert.False(t, task.Terminal())

	_, err = task.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, task.Terminal())

	_, err = task.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, task.Terminal())
}

func TestTask_PollErrorKeepsPhase(t *testing.T) {
	b := newFakeBackend()
	task, err := Start(context.Background(), b, OperationSpec{Description: "op"})
	require.NoError(t, err)

	b.pollErr = fmt.Errorf("network fault")

	phase, err := task.Poll(context.Background())
	require.Error(t, err)
	assert.Equal(t, PhaseStarted, phase)
}
