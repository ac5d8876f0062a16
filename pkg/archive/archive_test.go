package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionzones/exporter/pkg/provider"
	"github.com/visionzones/exporter/pkg/provider/file"
	"github.com/visionzones/exporter/pkg/registry"
)

const testJobID = "job_20240301_120000_abcd1234"

func newTestStore(t *testing.T) *file.Provider {
	t.Helper()
	store, err := file.New(file.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	return store
}

func putObject(t *testing.T, store *file.Provider, key, content string) {
	t.Helper()
	err := store.PutObject(context.Background(), key,
		strings.NewReader(content), int64(len(content)))
	require.NoError(t, err)
}

func newTestRegistry(t *testing.T, state registry.State) registry.Registry {
	t.Helper()
	reg := registry.NewMemory()
	require.NoError(t, reg.Create(testJobID))
	require.NoError(t, reg.Update(testJobID, registry.StateRunning, "Export started"))
	if state != registry.StateRunning {
		require.NoError(t, reg.Update(testJobID, state, string(state)))
	}
	return reg
}

func readArchive(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	entries := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		entries[f.Name] = string(content)
	}
	return entries
}

func TestStream_FullJob(t *testing.T) {
	store := newTestStore(t)
	for month := 1; month <= 12; month++ {
		key := fmt.Sprintf("%s/NDVI/NDVI_2024_%02d.tif", testJobID, month)
		putObject(t, store, key, fmt.Sprintf("raster-%02d", month))
	}
	// Another job's namespace must never leak into this archive.
	putObject(t, store, "job_other/NDVI/NDVI_2024_01.tif", "foreign")

	s := NewStreamer(store, newTestRegistry(t, registry.StateSucceeded))
	var buf bytes.Buffer
	require.NoError(t, s.Stream(context.Background(), &buf, Request{JobID: testJobID}))

	entries := readArchive(t, buf.Bytes())
	require.Len(t, entries, 12)
	assert.Equal(t, "raster-03", entries["NDVI/NDVI_2024_03.tif"])
	for name := range entries {
		assert.False(t, strings.HasPrefix(name, testJobID), name)
	}
}

func TestStream_IndexScoped(t *testing.T) {
	store := newTestStore(t)
	putObject(t, store, testJobID+"/NDVI/NDVI_2024_01.tif", "ndvi")
	putObject(t, store, testJobID+"/EVI/EVI_2024_01.tif", "evi")

	s := NewStreamer(store, newTestRegistry(t, registry.StateSucceeded))

	var buf bytes.Buffer
	req := Request{JobID: testJobID, Index: "ndvi"}
	require.NoError(t, s.Stream(context.Background(), &buf, req))

	entries := readArchive(t, buf.Bytes())
	require.Len(t, entries, 1)
	assert.Equal(t, "ndvi", entries["NDVI_2024_01.tif"])
	assert.Equal(t, testJobID+"_NDVI.zip", req.Filename())
}

func TestStream_MatchGlob(t *testing.T) {
	store := newTestStore(t)
	putObject(t, store, testJobID+"/NDVI/NDVI_2023_12.tif", "old")
	putObject(t, store, testJobID+"/NDVI/NDVI_2024_01.tif", "new")
	putObject(t, store, testJobID+"/EVI/EVI_2024_01.tif", "new")

	s := NewStreamer(store, newTestRegistry(t, registry.StateSucceeded))
	var buf bytes.Buffer
	err := s.Stream(context.Background(), &buf,
		Request{JobID: testJobID, Match: "**/*_2024_*.tif"})
	require.NoError(t, err)

	entries := readArchive(t, buf.Bytes())
	assert.Len(t, entries, 2)
	assert.Contains(t, entries, "NDVI/NDVI_2024_01.tif")
	assert.Contains(t, entries, "EVI/EVI_2024_01.tif")
}

func TestStream_JobNotReady(t *testing.T) {
	store := newTestStore(t)
	putObject(t, store, testJobID+"/NDVI/NDVI_2024_01.tif", "raster")

	s := NewStreamer(store, newTestRegistry(t, registry.StateRunning))
	var buf bytes.Buffer
	err := s.Stream(context.Background(), &buf, Request{JobID: testJobID})

	assert.ErrorIs(t, err, ErrJobNotReady)
	assert.Zero(t, buf.Len(), "no bytes before the precondition check passes")
}

func TestStream_FailedJobNotReady(t *testing.T) {
	s := NewStreamer(newTestStore(t), newTestRegistry(t, registry.StateFailed))
	var buf bytes.Buffer
	err := s.Stream(context.Background(), &buf, Request{JobID: testJobID})
	assert.ErrorIs(t, err, ErrJobNotReady)
}

func TestStream_UnknownJob(t *testing.T) {
	s := NewStreamer(newTestStore(t), registry.NewMemory())
	var buf bytes.Buffer
	err := s.Stream(context.Background(), &buf, Request{JobID: "job_unknown"})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestStream_EmptyNamespace(t *testing.T) {
	s := NewStreamer(newTestStore(t), newTestRegistry(t, registry.StateSucceeded))
	var buf bytes.Buffer
	err := s.Stream(context.Background(), &buf, Request{JobID: testJobID})

	assert.ErrorIs(t, err, ErrNoObjects)
	assert.Zero(t, buf.Len())
}

func TestRequest_Filename(t *testing.T) {
	assert.Equal(t, testJobID+".zip", Request{JobID: testJobID}.Filename())
	assert.Equal(t, testJobID+"_EVI.zip", Request{JobID: testJobID, Index: "evi"}.Filename())
}

func TestStream_Paginated(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 25; i++ {
		putObject(t, store, fmt.Sprintf("%s/NDVI/part_%03d.tif", testJobID, i), "x")
	}

	s := NewStreamer(pagingStore{store}, newTestRegistry(t, registry.StateSucceeded))
	var buf bytes.Buffer
	require.NoError(t, s.Stream(context.Background(), &buf, Request{JobID: testJobID}))

	assert.Len(t, readArchive(t, buf.Bytes()), 25)
}

func TestStream_SkipsObjectDeletedAfterListing(t *testing.T) {
	store := newTestStore(t)
	putObject(t, store, testJobID+"/NDVI/NDVI_2024_01.tif", "jan")
	putObject(t, store, testJobID+"/NDVI/NDVI_2024_02.tif", "feb")

	s := NewStreamer(
		vanishingStore{Provider: store, gone: testJobID + "/NDVI/NDVI_2024_01.tif"},
		newTestRegistry(t, registry.StateSucceeded))
	var buf bytes.Buffer
	require.NoError(t, s.Stream(context.Background(), &buf, Request{JobID: testJobID}))

	entries := readArchive(t, buf.Bytes())
	assert.Equal(t, map[string]string{"NDVI/NDVI_2024_02.tif": "feb"}, entries)
}

// pagingStore forces small listing pages so pagination is exercised.
type pagingStore struct {
	*file.Provider
}

func (p pagingStore) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	opts.MaxKeys = 10
	return p.Provider.List(ctx, opts)
}

// vanishingStore lists a key whose object no longer exists, simulating a
// deletion between the listing page and the read.
type vanishingStore struct {
	*file.Provider
	gone string
}

func (v vanishingStore) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	if key == v.gone {
		return nil, &provider.ProviderError{Op: "Head", Provider: provider.ProviderFile, Key: key, Err: provider.ErrNotFound}
	}
	return v.Provider.Head(ctx, key)
}
