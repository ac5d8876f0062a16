package boundary

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const squareGeoJSON = `{
	"type": "Polygon",
	"coordinates": [[[150.0,-33.0],[151.0,-33.0],[151.0,-32.0],[150.0,-32.0],[150.0,-33.0]]]
}`

func TestParse_GeoJSONGeometry(t *testing.T) {
	b, err := Parse("field.geojson", []byte(squareGeoJSON))
	require.NoError(t, err)

	_, ok := b.Geometry().(orb.Polygon)
	assert.True(t, ok)
	assert.Equal(t, [4]float64{150, -33, 151, -32}, b.Bounds())
}

func TestParse_GeoJSONFeature(t *testing.T) {
	raw := `{"type":"Feature","properties":{"name":"north"},"geometry":` + squareGeoJSON + `}`
	b, err := Parse("field.json", []byte(raw))
	require.NoError(t, err)
	assert.Equal(t, [4]float64{150, -33, 151, -32}, b.Bounds())
}

func TestParse_GeoJSONFeatureCollection(t *testing.T) {
	raw := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{},"geometry":` + squareGeoJSON + `},
		{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[0,0]}},
		{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[152.0,-33.0],[153.0,-33.0],[153.0,-32.0],[152.0,-33.0]]]}}
	]}`
	b, err := Parse("fields.geojson", []byte(raw))
	require.NoError(t, err)

	// Two polygon features merge; the point is dropped.
	mp, ok := b.Geometry().(orb.MultiPolygon)
	require.True(t, ok)
	assert.Len(t, mp, 2)
	assert.Equal(t, [4]float64{150, -33, 153, -32}, b.Bounds())
}

func TestParse_GeoJSONRejectsNonPolygonal(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"point geometry", `{"type":"Point","coordinates":[0,0]}`, "unsupported GeoJSON type"},
		{"line feature", `{"type":"Feature","properties":{},"geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]}}`, "not Polygon/MultiPolygon"},
		{"empty collection", `{"type":"FeatureCollection","features":[]}`, "no polygon geometry"},
		{"not json", `<gml/>`, "invalid GeoJSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("field.geojson", []byte(tt.raw))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestParse_GeoJSONRoundTrip(t *testing.T) {
	b, err := Parse("field.geojson", []byte(squareGeoJSON))
	require.NoError(t, err)

	raw, err := b.GeoJSON()
	require.NoError(t, err)

	fc, err := geojson.UnmarshalFeatureCollection(raw)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "Polygon", geojson.NewGeometry(fc.Features[0].Geometry).Type)
}

const testKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document>
    <Folder>
      <Placemark>
        <name>paddock</name>
        <Polygon>
          <outerBoundaryIs><LinearRing><coordinates>
            150.0,-33.0,0 151.0,-33.0,0 151.0,-32.0,0 150.0,-32.0,0 150.0,-33.0,0
          </coordinates></LinearRing></outerBoundaryIs>
          <innerBoundaryIs><LinearRing><coordinates>
            150.4,-32.6 150.6,-32.6 150.6,-32.4 150.4,-32.4 150.4,-32.6
          </coordinates></LinearRing></innerBoundaryIs>
        </Polygon>
      </Placemark>
    </Folder>
  </Document>
</kml>`

func TestParse_KML(t *testing.T) {
	b, err := Parse("field.kml", []byte(testKML))
	require.NoError(t, err)

	poly, ok := b.Geometry().(orb.Polygon)
	require.True(t, ok)
	assert.Len(t, poly, 2, "outer ring plus one hole")
	assert.Equal(t, [4]float64{150, -33, 151, -32}, b.Bounds())
}

func TestParse_KMLUnclosedRing(t *testing.T) {
	raw := `<kml><Placemark><Polygon><outerBoundaryIs><LinearRing><coordinates>
		0,0 1,0 1,1 0,1
	</coordinates></LinearRing></outerBoundaryIs></Polygon></Placemark></kml>`
	b, err := Parse("field.kml", []byte(raw))
	require.NoError(t, err)

	poly := b.Geometry().(orb.Polygon)
	require.Len(t, poly, 1)
	assert.Equal(t, poly[0][0], poly[0][len(poly[0])-1], "ring was closed")
}

func TestParse_KMLNoGeometry(t *testing.T) {
	_, err := Parse("field.kml", []byte(`<kml><Document><name>empty</name></Document></kml>`))
	assert.ErrorContains(t, err, "no polygon geometries")
}

func buildZip(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestParse_KMZ(t *testing.T) {
	raw := buildZip(t, map[string][]byte{
		"doc.kml":    []byte(testKML),
		"styles.txt": []byte("ignored"),
	})
	b, err := Parse("field.kmz", raw)
	require.NoError(t, err)
	assert.Equal(t, [4]float64{150, -33, 151, -32}, b.Bounds())
}

func TestParse_KMZWithoutKML(t *testing.T) {
	raw := buildZip(t, map[string][]byte{"readme.txt": []byte("x")})
	_, err := Parse("field.kmz", raw)
	assert.ErrorContains(t, err, "no .kml")
}

// buildSHP writes a minimal single-record polygon shapefile.
func buildSHP(t *testing.T, rings []orb.Ring) []byte {
	t.Helper()

	var content bytes.Buffer
	le := binary.LittleEndian
	write := func(v any) { require.NoError(t, binary.Write(&content, le, v)) }

	numPoints := 0
	for _, r := range rings {
		numPoints += len(r)
	}

	write(uint32(shapePolygon))
	for i := 0; i < 4; i++ {
		write(float64(0)) // bounding box, unread
	}
	write(uint32(len(rings)))
	write(uint32(numPoints))
	start := 0
	for _, r := range rings {
		write(uint32(start))
		start += len(r)
	}
	for _, r := range rings {
		for _, p := range r {
			write(p[0])
			write(p[1])
		}
	}

	var shp bytes.Buffer
	be := binary.BigEndian
	writeBE := func(v any) { require.NoError(t, binary.Write(&shp, be, v)) }
	writeBE(uint32(shpFileCode))
	shp.Write(make([]byte, 96)) // rest of the 100-byte header, unread
	writeBE(uint32(1))          // record number
	writeBE(uint32(content.Len() / 2))
	shp.Write(content.Bytes())
	return shp.Bytes()
}

func clockwiseSquare(x0, y0, size float64) orb.Ring {
	return orb.Ring{
		{x0, y0}, {x0, y0 + size}, {x0 + size, y0 + size}, {x0 + size, y0}, {x0, y0},
	}
}

func TestParse_ShapefileZip(t *testing.T) {
	shp := buildSHP(t, []orb.Ring{clockwiseSquare(150, -33, 1)})
	raw := buildZip(t, map[string][]byte{
		"field.shp": shp,
		"field.shx": {},
		"field.dbf": {},
	})

	b, err := Parse("field.zip", raw)
	require.NoError(t, err)

	poly, ok := b.Geometry().(orb.Polygon)
	require.True(t, ok)
	require.Len(t, poly, 1)
	assert.Equal(t, [4]float64{150, -33, 151, -32}, b.Bounds())
}

func TestParse_ShapefileZipMissingComponent(t *testing.T) {
	shp := buildSHP(t, []orb.Ring{clockwiseSquare(0, 0, 1)})
	raw := buildZip(t, map[string][]byte{"field.shp": shp, "field.shx": {}})

	_, err := Parse("field.zip", raw)
	assert.ErrorContains(t, err, "missing .dbf")
}

func TestParse_ShapefileHoleGrouping(t *testing.T) {
	outer := clockwiseSquare(0, 0, 10)
	hole := orb.Ring{{4, 4}, {6, 4}, {6, 6}, {4, 6}, {4, 4}} // counter-clockwise
	require.Equal(t, orb.CW, outer.Orientation())
	require.Equal(t, orb.CCW, hole.Orientation())

	shp := buildSHP(t, []orb.Ring{outer, hole})
	raw := buildZip(t, map[string][]byte{
		"field.shp": shp, "field.shx": {}, "field.dbf": {},
	})

	b, err := Parse("field.zip", raw)
	require.NoError(t, err)

	poly, ok := b.Geometry().(orb.Polygon)
	require.True(t, ok)
	assert.Len(t, poly, 2, "hole attached to its outer ring")
}

func TestBoundary_GeoJSONIsValidJSON(t *testing.T) {
	b, err := Parse("field.geojson", []byte(squareGeoJSON))
	require.NoError(t, err)
	raw, err := b.GeoJSON()
	require.NoError(t, err)
	assert.True(t, json.Valid(raw))
	assert.False(t, math.IsNaN(b.Bounds()[0]))
}
