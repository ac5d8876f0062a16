package paddock

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testGeometry = json.RawMessage(`{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[150,-33],[151,-33],[151,-32],[150,-32],[150,-33]]]}}]}`)

var testBounds = [4]float64{150, -33, 151, -32}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "paddocks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestID_Deterministic(t *testing.T) {
	a, err := ID(testGeometry)
	require.NoError(t, err)
	assert.Len(t, a, 16)

	// Formatting differences do not change identity.
	var v any
	require.NoError(t, json.Unmarshal(testGeometry, &v))
	pretty, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	b, err := ID(pretty)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := ID(json.RawMessage(`{"type":"FeatureCollection","features":[]}`))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestID_InvalidJSON(t *testing.T) {
	_, err := ID(json.RawMessage(`{broken`))
	assert.ErrorContains(t, err, "invalid geometry JSON")
}

func TestStore_CreateGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "north field", testGeometry, testBounds)
	require.NoError(t, err)
	assert.Len(t, created.ID, 16)
	assert.Equal(t, "north field", created.Name)
	assert.Equal(t, testBounds, created.Bounds)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)
	assert.JSONEq(t, string(testGeometry), string(got.Geometry))
}

func TestStore_GetUnknown(t *testing.T) {
	store := openTestStore(t)
	got, err := store.Get(context.Background(), "deadbeefdeadbeef")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_SameGeometryOverwrites(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, "old name", testGeometry, testBounds)
	require.NoError(t, err)
	second, err := store.Create(ctx, "new name", testGeometry, testBounds)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "new name", second.Name)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_ListOrdered(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	other := json.RawMessage(`{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}]}`)

	_, err := store.Create(ctx, "zulu", testGeometry, testBounds)
	require.NoError(t, err)
	_, err = store.Create(ctx, "alpha", other, [4]float64{0, 0, 1, 1})
	require.NoError(t, err)

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Name)
	assert.Equal(t, "zulu", all[1].Name)
}

func TestStore_CreateValidation(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Create(context.Background(), "  ", testGeometry, testBounds)
	assert.ErrorContains(t, err, "name is required")

	_, err = store.Create(context.Background(), "x", json.RawMessage(`nope`), testBounds)
	assert.ErrorContains(t, err, "invalid geometry")
}

func TestOpen_InMemory(t *testing.T) {
	store, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Create(context.Background(), "m", testGeometry, testBounds)
	assert.NoError(t, err)
}
