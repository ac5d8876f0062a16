// Package dispatch routes accepted export jobs onto an execution strategy.
//
// Two strategies exist: a bounded in-process worker pool, and a Redis-backed
// distributed queue consumed by separate worker processes. The queue is used
// only when a queue URL is configured and Redis answers a connectivity probe
// for that submission; otherwise the submission degrades to local execution
// rather than failing. Callers never observe which strategy ran their job.
package dispatch

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/visionzones/exporter/pkg/export"
)

// Runner executes one export job to completion. It must contain every
// failure itself; the dispatcher never inspects the job's outcome.
type Runner func(ctx context.Context, req export.Request)

// Dispatcher hands one accepted job to an execution strategy. Dispatch
// returns as soon as the job is scheduled, never when it finishes.
type Dispatcher interface {
	Dispatch(ctx context.Context, req export.Request) error

	// Mode names the active strategy, "local" or "queue".
	Mode() string

	// Close stops accepting jobs. The local strategy drains in-flight
	// jobs; the queue strategy closes its connection.
	Close() error
}

const probeTimeout = 3 * time.Second

// Select builds the dispatcher. An empty queueURL selects the local pool
// outright. A set queueURL that parses yields a queue-preferring dispatcher
// that re-probes Redis on every submission, so a queue that is healthy at
// startup but down later still degrades that submission to local execution.
// A queueURL that does not even parse is a configuration mistake, logged
// once, and the process runs local-only.
func Select(queueURL string, run Runner, logger *zap.Logger) Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueURL == "" {
		logger.Info("dispatch mode selected", zap.String("mode", "local"))
		return NewLocal(run, DefaultLocalWorkers)
	}

	q, err := NewQueue(queueURL)
	if err != nil {
		logger.Warn("queue client setup failed, falling back to local dispatch",
			zap.Error(err))
		return NewLocal(run, DefaultLocalWorkers)
	}
	logger.Info("dispatch mode selected", zap.String("mode", "queue"))
	return &Fallback{
		primary: q,
		local:   NewLocal(run, DefaultLocalWorkers),
		probe:   func(ctx context.Context) error { return probeRedis(ctx, queueURL) },
		logger:  logger,
	}
}

// Fallback prefers a primary dispatcher but routes each submission to a
// resident local pool when the primary's connectivity probe or its
// Dispatch fails. The decision is per submission, never cached.
type Fallback struct {
	primary Dispatcher
	local   Dispatcher
	probe   func(ctx context.Context) error
	logger  *zap.Logger
}

var _ Dispatcher = (*Fallback)(nil)

func (f *Fallback) Dispatch(ctx context.Context, req export.Request) error {
	if err := f.probe(ctx); err != nil {
		f.logger.Warn("queue unreachable, running job locally",
			zap.String("job_id", req.JobID),
			zap.Error(err))
		return f.local.Dispatch(ctx, req)
	}
	if err := f.primary.Dispatch(ctx, req); err != nil {
		f.logger.Warn("enqueue failed, running job locally",
			zap.String("job_id", req.JobID),
			zap.Error(err))
		return f.local.Dispatch(ctx, req)
	}
	return nil
}

// Mode reports the configured strategy; per-submission fallbacks do not
// change it.
func (f *Fallback) Mode() string { return f.primary.Mode() }

func (f *Fallback) Close() error {
	localErr := f.local.Close()
	if err := f.primary.Close(); err != nil {
		return err
	}
	return localErr
}

func probeRedis(ctx context.Context, queueURL string) error {
	opt, err := redis.ParseURL(queueURL)
	if err != nil {
		return err
	}
	client := redis.NewClient(opt)
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return client.Ping(ctx).Err()
}
