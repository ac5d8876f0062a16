package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/visionzones/exporter/internal/config"
	"github.com/visionzones/exporter/internal/observability"
	"github.com/visionzones/exporter/pkg/archive"
	"github.com/visionzones/exporter/pkg/compute"
	"github.com/visionzones/exporter/pkg/dispatch"
	"github.com/visionzones/exporter/pkg/export"
	"github.com/visionzones/exporter/pkg/provider"
	"github.com/visionzones/exporter/pkg/provider/file"
	"github.com/visionzones/exporter/pkg/provider/s3"
	"github.com/visionzones/exporter/pkg/registry"
)

// objectStore holds the provider plus its close hook.
type objectStore struct {
	archive.Store
	close func() error
}

func (o objectStore) Close() error {
	if o.close == nil {
		return nil
	}
	return o.close()
}

// lazyStore defers provider construction to the first storage call. The
// server must boot on a bare install; with storage unconfigured, every
// storage call surfaces the construction error and the health check
// reports degraded instead of the process dying.
type lazyStore struct {
	build func(ctx context.Context) (objectStore, error)

	mu    sync.Mutex
	store *objectStore
}

func newLazyStore(cfg *config.Config) *lazyStore {
	return &lazyStore{build: func(ctx context.Context) (objectStore, error) {
		return buildStore(ctx, cfg)
	}}
}

func (l *lazyStore) get(ctx context.Context) (archive.Store, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store != nil {
		return l.store.Store, nil
	}
	s, err := l.build(ctx)
	if err != nil {
		return nil, err
	}
	l.store = &s
	return s.Store, nil
}

func (l *lazyStore) List(ctx context.Context, opts archive.ListOptions) (*archive.ListResult, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.List(ctx, opts)
}

func (l *lazyStore) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.Head(ctx, key)
}

func (l *lazyStore) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, 0, err
	}
	return s.GetObject(ctx, key)
}

func (l *lazyStore) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store == nil {
		return nil
	}
	return l.store.Close()
}

// buildStore constructs the configured object-storage provider.
func buildStore(ctx context.Context, cfg *config.Config) (objectStore, error) {
	switch cfg.Storage.Provider {
	case "file":
		p, err := file.New(file.Config{BaseDir: cfg.Storage.BaseDir})
		if err != nil {
			return objectStore{}, fmt.Errorf("file storage: %w", err)
		}
		return objectStore{Store: p, close: p.Close}, nil
	case "s3", "":
		p, err := s3.New(ctx, s3.Config{
			Bucket:         cfg.Storage.Bucket,
			Region:         cfg.Storage.Region,
			Endpoint:       cfg.Storage.Endpoint,
			Profile:        cfg.Storage.Profile,
			ForcePathStyle: cfg.Storage.Endpoint != "",
		})
		if err != nil {
			return objectStore{}, fmt.Errorf("s3 storage: %w", err)
		}
		return objectStore{Store: p, close: p.Close}, nil
	default:
		return objectStore{}, fmt.Errorf("unknown storage provider: %q", cfg.Storage.Provider)
	}
}

// buildRegistry picks the registry backing. With a queue configured the
// registry must live in Redis so API and worker processes see the same job
// records; without one, in-memory suffices.
func buildRegistry(cfg *config.Config) (registry.Registry, func() error, error) {
	if cfg.Queue.URL == "" {
		return registry.NewMemory(), func() error { return nil }, nil
	}
	opt, err := redis.ParseURL(cfg.Queue.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("queue url: %w", err)
	}
	client := redis.NewClient(opt)
	return registry.NewRedis(client), client.Close, nil
}

// buildRunner assembles the export pipeline as a dispatch runner.
func buildRunner(cfg *config.Config, reg registry.Registry, logger *zap.Logger) (dispatch.Runner, error) {
	backend, err := compute.NewHTTPBackend(compute.HTTPConfig{
		BaseURL:           cfg.Compute.BaseURL,
		Project:           cfg.Compute.Project,
		Token:             cfg.Compute.Token,
		RequestsPerSecond: cfg.Compute.RequestsPerSecond,
		Timeout:           cfg.Compute.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("compute backend: %w", err)
	}

	pipeline := export.NewPipeline(backend, reg, cfg.Storage.Bucket, cfg.Export.PollInterval, logger)
	return pipeline.Run, nil
}

// buildLazyRunner defers compute-backend construction to the first job
// execution. The server must boot on a bare install with only read-only
// surfaces working; submission is gated separately, so a job only reaches
// the runner when the compute settings were valid at submission time.
func buildLazyRunner(cfg *config.Config, reg registry.Registry, logger *zap.Logger) dispatch.Runner {
	var (
		once sync.Once
		run  dispatch.Runner
		err  error
	)
	return func(ctx context.Context, req export.Request) {
		once.Do(func() {
			run, err = buildRunner(cfg, reg, logger)
		})
		if err != nil {
			logger.Error("compute backend unavailable",
				zap.String("job_id", req.JobID),
				zap.Error(err))
			_ = reg.Update(req.JobID, registry.StateFailed,
				fmt.Sprintf("Failed to configure compute backend: %v", err))
			return
		}
		run(ctx, req)
	}
}

func serverLogger() *zap.Logger { return observability.ServerLogger }
