package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/visionzones/exporter/pkg/export"
)

// DefaultLocalWorkers bounds concurrent local executions. The compute
// backend enforces its own admission control downstream, so two concurrent
// jobs is sufficient headroom.
const DefaultLocalWorkers = 2

// Local runs jobs in-process on a bounded worker pool.
//
// Dispatch never blocks on a busy pool: each job gets a goroutine that
// waits for a worker slot, so submissions queue in memory while at most
// `workers` pipelines execute. Jobs accepted before Close are drained;
// in-flight remote tasks survive a process restart only on the backend
// side, with the registry entry left at RUNNING.
type Local struct {
	run  Runner
	sem  chan struct{}
	wg   sync.WaitGroup
	base context.Context
	stop context.CancelFunc

	mu     sync.Mutex
	closed bool
}

var _ Dispatcher = (*Local)(nil)

// NewLocal builds a local pool with the given worker count.
func NewLocal(run Runner, workers int) *Local {
	if workers <= 0 {
		workers = DefaultLocalWorkers
	}
	base, stop := context.WithCancel(context.Background())
	return &Local{
		run:  run,
		sem:  make(chan struct{}, workers),
		base: base,
		stop: stop,
	}
}

func (l *Local) Mode() string { return "local" }

// Dispatch schedules the job and returns immediately. The job runs under
// the pool's own context, detached from the request context, so finishing
// the HTTP request does not cancel execution.
func (l *Local) Dispatch(_ context.Context, req export.Request) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("dispatcher is closed")
	}
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()

		select {
		case l.sem <- struct{}{}:
		case <-l.base.Done():
			return
		}
		defer func() { <-l.sem }()

		l.run(l.base, req)
	}()
	return nil
}

// Close stops accepting jobs and waits for accepted jobs to finish.
func (l *Local) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	l.wg.Wait()
	l.stop()
	return nil
}
