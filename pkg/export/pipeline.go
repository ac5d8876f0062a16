package export

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/visionzones/exporter/pkg/compute"
	"github.com/visionzones/exporter/pkg/registry"
)

// DefaultPollInterval is the reference polling cadence against the backend.
const DefaultPollInterval = 10 * time.Second

// Pipeline executes one job's export end to end.
//
// Pipeline runs detached from any request/response cycle: every failure
// mode, including panics, terminates in the job being marked FAILED in the
// registry. Nothing propagates to a caller.
type Pipeline struct {
	backend  compute.Backend
	registry registry.Registry
	bucket   string
	interval time.Duration
	logger   *zap.Logger
}

// NewPipeline wires a pipeline. A zero interval uses DefaultPollInterval.
func NewPipeline(backend compute.Backend, reg registry.Registry, bucket string, interval time.Duration, logger *zap.Logger) *Pipeline {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		backend:  backend,
		registry: reg,
		bucket:   bucket,
		interval: interval,
		logger:   logger,
	}
}

// Run executes the request and records the outcome on the registry. It
// never returns an error and never panics; the registry record is the only
// output channel.
func (p *Pipeline) Run(ctx context.Context, req Request) {
	defer func() {
		if rec := recover(); rec != nil {
			p.fail(req.JobID, fmt.Sprintf("Export crashed: %v", rec))
		}
	}()

	p.update(req.JobID, registry.StateRunning, "Export started")

	if err := req.Validate(); err != nil {
		p.fail(req.JobID, fmt.Sprintf("Invalid export request: %v", err))
		return
	}

	tasks, err := p.startAll(ctx, req)
	if err != nil {
		p.fail(req.JobID, fmt.Sprintf("Failed to start exports: %v", err))
		return
	}

	p.logger.Info("started remote tasks",
		zap.String("job_id", req.JobID),
		zap.Int("tasks", len(tasks)))

	if err := p.pollAll(ctx, req.JobID, tasks); err != nil {
		p.fail(req.JobID, fmt.Sprintf("Export polling aborted: %v", err))
		return
	}
}

// startAll starts every operation in the request's fixed order.
func (p *Pipeline) startAll(ctx context.Context, req Request) ([]*compute.Task, error) {
	tasks := make([]*compute.Task, 0, req.TaskCount())
	for spec := range req.Operations(p.bucket) {
		task, err := compute.Start(ctx, p.backend, spec)
		if err != nil {
			// Already-started siblings keep running on the backend; the
			// backend executes and bills regardless, so no cancellation.
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("request produced no operations")
	}
	return tasks, nil
}

// pollAll drives every task to a terminal phase on the poll interval.
//
// The first confirmed failure marks the job FAILED immediately; polling of
// the remaining tasks continues so their backend-side completions are still
// observed, but their outcomes no longer change the job. On an all-success
// set the job is marked SUCCEEDED.
func (p *Pipeline) pollAll(ctx context.Context, jobID string, tasks []*compute.Task) error {
	// A sweep where every remaining poll errors usually means the backend
	// or network is down. Tolerate a few before giving up on the job.
	const maxBadSweeps = 6

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	pending := len(tasks)
	failed := false
	badSweeps := 0

	for pending > 0 {
		pending = 0
		polled, errored := 0, 0
		for _, task := range tasks {
			if task.Terminal() {
				continue
			}
			polled++

			phase, err := task.Poll(ctx)
			if err != nil {
				// The task may still be running; count it pending and retry
				// next tick unless the context is gone.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Warn("task poll failed",
					zap.String("job_id", jobID),
					zap.String("task", task.Spec().Description),
					zap.Error(err))
				errored++
				pending++
				continue
			}

			switch phase {
			case compute.PhaseFailed:
				if !failed {
					failed = true
					p.fail(jobID, fmt.Sprintf("Export %s finished with status %s",
						task.Spec().Description, task.TerminalState()))
				}
			case compute.PhaseCompleted:
			default:
				pending++
			}
		}

		if pending == 0 {
			break
		}

		if errored > 0 && errored == polled {
			badSweeps++
			if badSweeps >= maxBadSweeps {
				return fmt.Errorf("backend unreachable for %d consecutive polls", badSweeps)
			}
		} else {
			badSweeps = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	if !failed {
		p.update(jobID, registry.StateSucceeded,
			fmt.Sprintf("%d exports completed", len(tasks)))
	}
	return nil
}

func (p *Pipeline) fail(jobID, message string) {
	p.logger.Error("job failed", zap.String("job_id", jobID), zap.String("message", message))
	p.update(jobID, registry.StateFailed, message)
}

func (p *Pipeline) update(jobID string, state registry.State, message string) {
	if err := p.registry.Update(jobID, state, message); err != nil {
		p.logger.Warn("registry update failed",
			zap.String("job_id", jobID),
			zap.String("state", string(state)),
			zap.Error(err))
	}
}
