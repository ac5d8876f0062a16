package boundary

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// KML containers (Document, Folder) nest arbitrarily; the decoder mirrors
// that with a recursive struct and the walk flattens every Placemark.
type kmlRoot struct {
	XMLName xml.Name `xml:"kml"`
	kmlContainer
}

type kmlContainer struct {
	Documents  []kmlContainer `xml:"Document"`
	Folders    []kmlContainer `xml:"Folder"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	Polygons []kmlPolygon `xml:"Polygon"`
	Multi    *kmlMulti    `xml:"MultiGeometry"`
}

type kmlMulti struct {
	Polygons []kmlPolygon `xml:"Polygon"`
}

type kmlPolygon struct {
	Outer kmlBoundaryRing   `xml:"outerBoundaryIs"`
	Inner []kmlBoundaryRing `xml:"innerBoundaryIs"`
}

type kmlBoundaryRing struct {
	Coordinates string `xml:"LinearRing>coordinates"`
}

func parseKMLOrKMZ(name string, raw []byte) (*Boundary, error) {
	if strings.HasSuffix(name, ".kmz") {
		kmlBytes, err := extractKMZ(raw)
		if err != nil {
			return nil, err
		}
		raw = kmlBytes
	}
	return parseKML(raw)
}

func extractKMZ(raw []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("invalid KMZ archive: %w", err)
	}
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".kml") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("read %s from KMZ: %w", f.Name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("KMZ contains no .kml file")
}

func parseKML(raw []byte) (*Boundary, error) {
	var root kmlRoot
	if err := xml.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("invalid KML: %w", err)
	}

	var geoms []orb.Geometry
	var walkErr error
	var walk func(c kmlContainer)
	walk = func(c kmlContainer) {
		for _, pm := range c.Placemarks {
			polys := pm.Polygons
			if pm.Multi != nil {
				polys = append(polys, pm.Multi.Polygons...)
			}
			for _, kp := range polys {
				poly, err := kp.toPolygon()
				if err != nil {
					walkErr = err
					return
				}
				geoms = append(geoms, poly)
			}
		}
		for _, d := range c.Documents {
			walk(d)
		}
		for _, f := range c.Folders {
			walk(f)
		}
	}
	walk(root.kmlContainer)
	if walkErr != nil {
		return nil, walkErr
	}
	if len(geoms) == 0 {
		return nil, fmt.Errorf("no polygon geometries found in KML")
	}
	return merge(geoms)
}

func (kp kmlPolygon) toPolygon() (orb.Polygon, error) {
	outer, err := parseKMLRing(kp.Outer.Coordinates)
	if err != nil {
		return nil, fmt.Errorf("outer ring: %w", err)
	}
	poly := orb.Polygon{outer}
	for _, inner := range kp.Inner {
		ring, err := parseKMLRing(inner.Coordinates)
		if err != nil {
			return nil, fmt.Errorf("inner ring: %w", err)
		}
		poly = append(poly, ring)
	}
	return poly, nil
}

// parseKMLRing decodes a KML coordinates block: whitespace-separated
// "lon,lat[,alt]" tuples. Altitude is dropped; the ring is closed if the
// source left it open.
func parseKMLRing(coords string) (orb.Ring, error) {
	var ring orb.Ring
	for _, tuple := range strings.Fields(coords) {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("malformed coordinate tuple %q", tuple)
		}
		lon, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed longitude %q", parts[0])
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed latitude %q", parts[1])
		}
		ring = append(ring, orb.Point{lon, lat})
	}
	if len(ring) < 3 {
		return nil, fmt.Errorf("ring has %d points, need at least 3", len(ring))
	}
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return ring, nil
}
