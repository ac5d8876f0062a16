// Package provider defines abstractions for the object store that export
// jobs write into.
//
// Each job owns a disjoint key namespace (its job id prefix). The exporter
// only ever lists, reads, and writes within one job's namespace, so the
// surface here stays small: prefix listing with pagination, single-object
// metadata, and streaming reads for archive assembly.
//
// Authentication uses SDK default credential chains - providers should not
// implement custom auth logic.
package provider

import (
	"context"
	"io"
	"time"
)

// Provider abstracts object storage listing operations.
//
// Implementations should:
//   - Use SDK default credential chains
//   - Support pagination via continuation tokens
//   - Be safe for concurrent use
type Provider interface {
	// List returns a page of objects with the given prefix.
	// Use ContinuationToken from ListResult for subsequent pages.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Head returns metadata for a single object.
	// Returns ErrNotFound if the object does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// Close releases any resources held by the provider.
	Close() error
}

// ObjectGetter can download objects as a stream.
//
// The archive streamer requires this capability; it is a separate interface
// so listing-only providers stay minimal.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)
}

// ObjectPutter can create/overwrite objects.
//
// Used by write probes and by tests seeding job namespaces.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error
}

// ListOptions configures a List operation.
type ListOptions struct {
	// Prefix filters results to keys starting with this value.
	// Empty string lists all objects.
	Prefix string

	// ContinuationToken resumes listing from a previous ListResult.
	// Empty string starts from the beginning.
	ContinuationToken string

	// MaxKeys limits the number of objects returned per page.
	// Zero uses provider default (typically 1000).
	MaxKeys int
}

// ListResult contains a page of objects from a List operation.
type ListResult struct {
	// Objects contains the object summaries for this page.
	Objects []ObjectSummary

	// ContinuationToken is used to retrieve the next page.
	// Empty string indicates no more pages.
	ContinuationToken string

	// IsTruncated indicates whether more results are available.
	IsTruncated bool
}

// ObjectSummary contains basic metadata returned from List operations.
type ObjectSummary struct {
	// Key is the full object key (path) in the bucket.
	Key string

	// Size is the object size in bytes.
	Size int64

	// ETag is the entity tag, typically an MD5 hash of the object.
	ETag string

	// LastModified is when the object was last modified.
	LastModified time.Time
}

// ObjectMeta contains full metadata for a single object.
// Returned by Head operations.
type ObjectMeta struct {
	ObjectSummary

	// ContentType is the MIME type of the object.
	ContentType string

	// Metadata contains user-defined metadata key-value pairs.
	Metadata map[string]string
}

// ProviderType identifies an object storage provider.
type ProviderType string

const (
	// ProviderS3 represents AWS S3 or S3-compatible storage, including the
	// GCS interoperability endpoint the compute backend exports into.
	ProviderS3 ProviderType = "s3"

	// ProviderFile represents a local directory, used in tests and for
	// offline development.
	ProviderFile ProviderType = "file"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}
