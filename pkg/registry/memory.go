package registry

import (
	"sync"
	"time"
)

// Memory is an in-process Registry guarded by a single mutex.
//
// Record count is small and updates are infrequent, so one registry-wide
// mutex is simpler and sufficient compared to per-record locking.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*Record

	// now is swappable for tests.
	now func() time.Time
}

var _ Registry = (*Memory)(nil)

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		jobs: make(map[string]*Record),
		now:  time.Now,
	}
}

func (m *Memory) Create(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	m.jobs[jobID] = &Record{
		JobID:     jobID,
		State:     StateQueued,
		Message:   "Queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (m *Memory) Update(jobID string, state State, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.jobs[jobID]
	if !ok {
		return nil
	}
	if rec.State.IsTerminal() {
		return nil
	}

	rec.State = state
	rec.Message = message
	rec.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) Get(jobID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.jobs[jobID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}
