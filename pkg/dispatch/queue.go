package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/visionzones/exporter/pkg/export"
)

// TypeExportRun is the queue task type carrying one export job.
const TypeExportRun = "export:run"

const (
	// queueMaxRetry re-runs a job whose worker died or whose handler
	// errored before execution began. Partial remote-task failures are the
	// pipeline's own outcome, not a queue retry trigger.
	queueMaxRetry = 3

	// queueRetention keeps completed task results visible for a day.
	queueRetention = 24 * time.Hour

	// queueTimeout hard-stops a job after two hours; the canceled context
	// makes the pipeline mark the job FAILED instead of running forever.
	queueTimeout = 2 * time.Hour
)

// Queue enqueues jobs on Redis for separate worker processes. The workers
// must share the submitting process's registry backing store, or status
// queries would never see their updates.
type Queue struct {
	client *asynq.Client
}

var _ Dispatcher = (*Queue)(nil)

// NewQueue builds a queue dispatcher from a Redis URL.
func NewQueue(queueURL string) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(queueURL)
	if err != nil {
		return nil, fmt.Errorf("invalid queue url: %w", err)
	}
	return &Queue{client: asynq.NewClient(opt)}, nil
}

func (q *Queue) Mode() string { return "queue" }

// Dispatch serializes the request and enqueues it. The job stays QUEUED in
// the registry until a worker's pipeline marks it RUNNING.
func (q *Queue) Dispatch(ctx context.Context, req export.Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", req.JobID, err)
	}

	task := asynq.NewTask(TypeExportRun, payload)
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(queueMaxRetry),
		asynq.Retention(queueRetention),
		asynq.Timeout(queueTimeout))
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", req.JobID, err)
	}
	return nil
}

func (q *Queue) Close() error { return q.client.Close() }

// ExportTaskHandler adapts a Runner to the queue's handler contract.
//
// A payload that does not decode is returned as an error so the queue
// retries it; once the runner takes over, the handler always reports
// success because the pipeline records its own outcome in the registry.
func ExportTaskHandler(run Runner) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var req export.Request
		if err := json.Unmarshal(task.Payload(), &req); err != nil {
			return fmt.Errorf("decode %s payload: %w", task.Type(), err)
		}
		run(ctx, req)
		return nil
	}
}

// Worker consumes export jobs from the queue.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorker builds a queue consumer with the same concurrency bound as the
// local pool.
func NewWorker(queueURL string, run Runner, logger *zap.Logger) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(queueURL)
	if err != nil {
		return nil, fmt.Errorf("invalid queue url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: DefaultLocalWorkers,
		Logger:      asynqLogger{logger.Sugar()},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeExportRun, ExportTaskHandler(run))

	return &Worker{server: server, mux: mux}, nil
}

// Run blocks consuming jobs until Shutdown or a fatal server error.
func (w *Worker) Run() error {
	return w.server.Run(w.mux)
}

// Shutdown stops the consumer, waiting for in-flight jobs.
func (w *Worker) Shutdown() { w.server.Shutdown() }

// asynqLogger bridges the queue library's logging onto zap.
type asynqLogger struct {
	s *zap.SugaredLogger
}

func (l asynqLogger) Debug(args ...interface{}) { l.s.Debug(args...) }
func (l asynqLogger) Info(args ...interface{})  { l.s.Info(args...) }
func (l asynqLogger) Warn(args ...interface{})  { l.s.Warn(args...) }
func (l asynqLogger) Error(args ...interface{}) { l.s.Error(args...) }
func (l asynqLogger) Fatal(args ...interface{}) { l.s.Fatal(args...) }
