// Package boundary normalizes uploaded boundary files into a single
// polygonal GeoJSON FeatureCollection.
//
// Accepted formats are GeoJSON (FeatureCollection, Feature, or bare
// geometry), KML, KMZ (zip-wrapped KML), and zipped Shapefile. Whatever
// the input, the output is one feature holding a Polygon or MultiPolygon;
// non-polygonal inputs are rejected as input errors.
package boundary

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Boundary is a parsed, normalized region of interest.
type Boundary struct {
	geom orb.Geometry
}

// Parse dispatches on the uploaded filename's extension: .kml/.kmz,
// .zip (shapefile), anything else is treated as GeoJSON.
func Parse(filename string, raw []byte) (*Boundary, error) {
	name := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(name, ".kml"), strings.HasSuffix(name, ".kmz"):
		return parseKMLOrKMZ(name, raw)
	case strings.HasSuffix(name, ".zip"):
		return parseShapefileZip(raw)
	default:
		return parseGeoJSON(raw)
	}
}

// Geometry returns the merged Polygon or MultiPolygon.
func (b *Boundary) Geometry() orb.Geometry { return b.geom }

// Bounds returns [minx, miny, maxx, maxy] in degrees.
func (b *Boundary) Bounds() [4]float64 {
	bound := b.geom.Bound()
	return [4]float64{bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]}
}

// FeatureCollection wraps the geometry as a one-feature collection, the
// shape every downstream consumer expects.
func (b *Boundary) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(b.geom))
	return fc
}

// GeoJSON returns the FeatureCollection serialized for the export request.
func (b *Boundary) GeoJSON() (json.RawMessage, error) {
	data, err := json.Marshal(b.FeatureCollection())
	if err != nil {
		return nil, fmt.Errorf("encode boundary: %w", err)
	}
	return data, nil
}

func parseGeoJSON(raw []byte) (*Boundary, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("invalid GeoJSON: %w", err)
	}

	var geoms []orb.Geometry
	switch probe.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid FeatureCollection: %w", err)
		}
		for _, f := range fc.Features {
			if isPolygonal(f.Geometry) {
				geoms = append(geoms, f.Geometry)
			}
		}
		if len(geoms) == 0 {
			return nil, fmt.Errorf("no polygon geometry in FeatureCollection")
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid Feature: %w", err)
		}
		if !isPolygonal(f.Geometry) {
			return nil, fmt.Errorf("feature is not Polygon/MultiPolygon")
		}
		geoms = append(geoms, f.Geometry)
	case "Polygon", "MultiPolygon":
		g, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid geometry: %w", err)
		}
		geoms = append(geoms, g.Geometry())
	default:
		return nil, fmt.Errorf("unsupported GeoJSON type: %q", probe.Type)
	}

	return merge(geoms)
}

func isPolygonal(g orb.Geometry) bool {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return true
	default:
		return false
	}
}

// merge flattens polygonal geometries into one Polygon or MultiPolygon.
// Overlapping members are kept as-is rather than dissolved; as a region of
// interest the result covers the same area either way.
func merge(geoms []orb.Geometry) (*Boundary, error) {
	var polys orb.MultiPolygon
	for _, g := range geoms {
		switch v := g.(type) {
		case orb.Polygon:
			polys = append(polys, v)
		case orb.MultiPolygon:
			polys = append(polys, v...)
		}
	}
	if len(polys) == 0 {
		return nil, fmt.Errorf("no polygon geometry found")
	}
	if len(polys) == 1 {
		return &Boundary{geom: polys[0]}, nil
	}
	return &Boundary{geom: polys}, nil
}
