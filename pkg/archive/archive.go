// Package archive assembles a job's object-storage output into a zip
// stream.
//
// The archive is produced on demand at download time, entry by entry:
// one listing page and one in-flight object body at a time, so memory use
// stays bounded no matter how many monthly rasters a job produced.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/visionzones/exporter/pkg/provider"
	"github.com/visionzones/exporter/pkg/registry"
)

var (
	// ErrJobNotFound means the job id has no registry record.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotReady means the job exists but has not reached SUCCEEDED.
	ErrJobNotReady = errors.New("job is not ready for download")

	// ErrNoObjects means a SUCCEEDED job's namespace held nothing to
	// archive. That inconsistency is surfaced rather than answered with an
	// empty zip.
	ErrNoObjects = errors.New("no output objects found")
)

// Store is the object-storage capability set the streamer needs.
type Store interface {
	List(ctx context.Context, opts ListOptions) (*ListResult, error)
	Head(ctx context.Context, key string) (*provider.ObjectMeta, error)
	GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error)
}

// Aliases keep Store self-describing without re-declaring the provider
// listing types.
type (
	ListOptions = provider.ListOptions
	ListResult  = provider.ListResult
)

// Request scopes one download.
type Request struct {
	JobID string

	// Index optionally restricts the archive to one vegetation index
	// sub-prefix, e.g. "NDVI".
	Index string

	// Match optionally filters entries by a glob over their archive-
	// internal names, e.g. "**/*_2024_*.tif".
	Match string
}

// Filename returns the client-facing archive name, <job_id>[_<index>].zip.
func (r Request) Filename() string {
	if r.Index != "" {
		return fmt.Sprintf("%s_%s.zip", r.JobID, strings.ToUpper(r.Index))
	}
	return r.JobID + ".zip"
}

func (r Request) prefix() string {
	if r.Index != "" {
		return r.JobID + "/" + strings.ToUpper(r.Index) + "/"
	}
	return r.JobID + "/"
}

// Streamer produces job archives from the store, gated on registry state.
type Streamer struct {
	store    Store
	registry registry.Registry
}

// NewStreamer wires a streamer.
func NewStreamer(store Store, reg registry.Registry) *Streamer {
	return &Streamer{store: store, registry: reg}
}

// Stream writes the job's archive to w.
//
// The job must exist and be SUCCEEDED; anything written to w before an
// error is a truncated zip the caller cannot retract, so both
// preconditions and the zero-object check run before the first byte.
func (s *Streamer) Stream(ctx context.Context, w io.Writer, req Request) error {
	rec, err := s.registry.Get(req.JobID)
	if err != nil {
		return fmt.Errorf("look up job %s: %w", req.JobID, err)
	}
	if rec == nil {
		return fmt.Errorf("job %s: %w", req.JobID, ErrJobNotFound)
	}
	if rec.State != registry.StateSucceeded {
		return fmt.Errorf("job %s is %s: %w", req.JobID, rec.State, ErrJobNotReady)
	}

	keys, err := s.collectKeys(ctx, req)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("job %s: %w", req.JobID, ErrNoObjects)
	}

	zw := zip.NewWriter(w)
	prefix := req.prefix()
	for _, key := range keys {
		if err := s.addEntry(ctx, zw, key, strings.TrimPrefix(key, prefix)); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive for %s: %w", req.JobID, err)
	}
	return nil
}

// collectKeys lists the job namespace page by page and applies the
// optional glob. Only keys are retained, not object bodies.
func (s *Streamer) collectKeys(ctx context.Context, req Request) ([]string, error) {
	prefix := req.prefix()
	var keys []string
	token := ""
	for {
		page, err := s.store.List(ctx, ListOptions{
			Prefix:            prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Objects {
			name := strings.TrimPrefix(obj.Key, prefix)
			if name == "" || strings.HasSuffix(name, "/") {
				continue
			}
			if req.Match != "" {
				ok, err := doublestar.Match(req.Match, name)
				if err != nil {
					return nil, fmt.Errorf("invalid match pattern %q: %w", req.Match, err)
				}
				if !ok {
					continue
				}
			}
			keys = append(keys, obj.Key)
		}
		if !page.IsTruncated || page.ContinuationToken == "" {
			return keys, nil
		}
		token = page.ContinuationToken
	}
}

// addEntry stats the object, then streams it into the archive. An object
// that vanished between listing and reading is skipped; its entry header
// was never written, so the archive stays well formed.
func (s *Streamer) addEntry(ctx context.Context, zw *zip.Writer, key, name string) error {
	meta, err := s.store.Head(ctx, key)
	if err != nil {
		if provider.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", key, err)
	}

	body, _, err := s.store.GetObject(ctx, key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	defer body.Close()

	entry, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: meta.LastModified,
	})
	if err != nil {
		return fmt.Errorf("create archive entry %s: %w", name, err)
	}
	if _, err := io.Copy(entry, body); err != nil {
		return fmt.Errorf("write archive entry %s: %w", name, err)
	}
	return nil
}
