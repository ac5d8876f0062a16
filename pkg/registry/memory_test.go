package registry

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_CreateAndGet(t *testing.T) {
	m := NewMemory()

	require.NoError(t, m.Create("job-1"))

	rec, err := m.Get("job-1")
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "job-1", rec.JobID)
	assert.Equal(t, StateQueued, rec.State)
	assert.Equal(t, "Queued", rec.Message)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.False(t, rec.UpdatedAt.Before(rec.CreatedAt))
}

func TestMemory_GetUnknownReturnsNil(t *testing.T) {
	m := NewMemory()

	rec, err := m.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMemory_UpdateUnknownIsNoop(t *testing.T) {
	m := NewMemory()

	require.NoError(t, m.Update("nope", StateRunning, "should vanish"))

	rec, err := m.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMemory_StateSequence(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Create("job-1"))

	require.NoError(t, m.Update("job-1", StateRunning, "Export started"))
	rec, _ := m.Get("job-1")
	assert.Equal(t, StateRunning, rec.State)

	require.NoError(t, m.Update("job-1", StateSucceeded, "All exports completed"))
	rec, _ = m.Get("job-1")
	assert.Equal(t, StateSucceeded, rec.State)
}

func TestMemory_TerminalStateIsFinal(t *testing.T) {
	tests := []struct {
		name     string
		terminal State
	}{
		{"succeeded", StateSucceeded},
		{"failed", StateFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMemory()
			require.NoError(t, m.Create("job-1"))
			require.NoError(t, m.Update("job-1", StateRunning, "running"))
			require.NoError(t, m.Update("job-1", tt.terminal, "done"))

			// A late poller must not move the job out of its terminal state.
			require.NoError(t, m.Update("job-1", StateRunning, "zombie"))

			rec, err := m.Get("job-1")
			require.NoError(t, err)
			assert.Equal(t, tt.terminal, rec.State)
			assert.Equal(t, "done", rec.Message)
		})
	}
}

func TestMemory_UpdatedAtAdvances(t *testing.T) {
	m := NewMemory()
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	require.NoError(t, m.Create("job-1"))
	clock = clock.Add(30 * time.Second)
	require.NoError(t, m.Update("job-1", StateRunning, "running"))

	rec, _ := m.Get("job-1")
	assert.Equal(t, 30*time.Second, rec.UpdatedAt.Sub(rec.CreatedAt))
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Create("job-1"))

	rec, _ := m.Get("job-1")
	rec.State = StateFailed

	fresh, _ := m.Get("job-1")
	assert.Equal(t, StateQueued, fresh.State)
}

func TestMemory_ConcurrentUpdates(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Create("job-1"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Update("job-1", StateRunning, "running")
			_, _ = m.Get("job-1")
		}()
	}
	wg.Wait()

	rec, err := m.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, rec.State)
}

func TestNewJobID(t *testing.T) {
	now := time.Date(2026, 8, 30, 14, 5, 9, 0, time.UTC)

	id := NewJobID(now)
	assert.True(t, strings.HasPrefix(id, "job_20260830_140509_"), id)

	// Same-second submissions must still be unique.
	other := NewJobID(now)
	assert.NotEqual(t, id, other)

	// Lexicographic order follows submission time.
	later := NewJobID(now.Add(time.Second))
	assert.Less(t, id[:len("job_20260830_140509")], later[:len("job_20260830_140510")])
}
