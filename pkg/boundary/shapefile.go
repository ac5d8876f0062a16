package boundary

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

// ESRI shapefile constants. Only polygon shape types are read; PolygonZ
// and PolygonM share the XY layout and their extra measures are skipped by
// reading records through their declared lengths.
const (
	shpFileCode = 9994

	shapeNull     = 0
	shapePolygon  = 5
	shapePolygonZ = 15
	shapePolygonM = 25
)

// parseShapefileZip reads polygon geometry from a zipped shapefile. The
// archive must carry the standard .shp/.shx/.dbf triple; geometry comes
// from the .shp alone.
func parseShapefileZip(raw []byte) (*Boundary, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("invalid shapefile archive: %w", err)
	}

	var shp []byte
	found := map[string]bool{}
	for _, f := range zr.File {
		ext := strings.ToLower(f.Name)
		switch {
		case strings.HasSuffix(ext, ".shp"):
			found[".shp"] = true
			if shp == nil {
				rc, err := f.Open()
				if err != nil {
					return nil, fmt.Errorf("read %s: %w", f.Name, err)
				}
				shp, err = io.ReadAll(rc)
				rc.Close()
				if err != nil {
					return nil, fmt.Errorf("read %s: %w", f.Name, err)
				}
			}
		case strings.HasSuffix(ext, ".shx"):
			found[".shx"] = true
		case strings.HasSuffix(ext, ".dbf"):
			found[".dbf"] = true
		}
	}
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		if !found[ext] {
			return nil, fmt.Errorf("shapefile archive must contain .shp, .shx, .dbf (missing %s)", ext)
		}
	}

	geoms, err := readSHP(shp)
	if err != nil {
		return nil, err
	}
	if len(geoms) == 0 {
		return nil, fmt.Errorf("no polygon geometry in shapefile")
	}
	return merge(geoms)
}

func readSHP(data []byte) ([]orb.Geometry, error) {
	if len(data) < 100 {
		return nil, fmt.Errorf("shapefile too short: %d bytes", len(data))
	}
	if binary.BigEndian.Uint32(data[0:4]) != shpFileCode {
		return nil, fmt.Errorf("not a shapefile: bad magic")
	}

	var geoms []orb.Geometry
	offset := 100
	for offset+8 <= len(data) {
		// Record header: number and content length, both big-endian; the
		// length counts 16-bit words.
		contentLen := int(binary.BigEndian.Uint32(data[offset+4:offset+8])) * 2
		offset += 8
		if offset+contentLen > len(data) {
			return nil, fmt.Errorf("truncated shapefile record at offset %d", offset)
		}
		record := data[offset : offset+contentLen]
		offset += contentLen

		geom, err := parseSHPRecord(record)
		if err != nil {
			return nil, err
		}
		if geom != nil {
			geoms = append(geoms, geom)
		}
	}
	return geoms, nil
}

func parseSHPRecord(record []byte) (orb.Geometry, error) {
	if len(record) < 4 {
		return nil, fmt.Errorf("shapefile record shorter than a shape type")
	}
	switch shapeType := binary.LittleEndian.Uint32(record[0:4]); shapeType {
	case shapePolygon, shapePolygonZ, shapePolygonM:
	case shapeNull:
		return nil, nil
	default:
		// Points, lines etc. carry no area; skip them like null shapes.
		return nil, nil
	}

	// Polygon layout: type(4) + box(32) + numParts(4) + numPoints(4) +
	// parts + points. Z/M payloads follow the points and are ignored.
	if len(record) < 44 {
		return nil, fmt.Errorf("polygon record too short: %d bytes", len(record))
	}
	numParts := int(binary.LittleEndian.Uint32(record[36:40]))
	numPoints := int(binary.LittleEndian.Uint32(record[40:44]))

	partsEnd := 44 + numParts*4
	pointsEnd := partsEnd + numPoints*16
	if numParts <= 0 || numPoints <= 0 || pointsEnd > len(record) {
		return nil, fmt.Errorf("malformed polygon record: %d parts, %d points", numParts, numPoints)
	}

	parts := make([]int, numParts+1)
	for i := 0; i < numParts; i++ {
		parts[i] = int(binary.LittleEndian.Uint32(record[44+i*4 : 48+i*4]))
	}
	parts[numParts] = numPoints

	rings := make([]orb.Ring, 0, numParts)
	for i := 0; i < numParts; i++ {
		start, end := parts[i], parts[i+1]
		if start < 0 || end < start || end > numPoints {
			return nil, fmt.Errorf("malformed polygon part %d", i)
		}
		ring := make(orb.Ring, 0, end-start)
		for j := start; j < end; j++ {
			base := partsEnd + j*16
			x := math.Float64frombits(binary.LittleEndian.Uint64(record[base : base+8]))
			y := math.Float64frombits(binary.LittleEndian.Uint64(record[base+8 : base+16]))
			ring = append(ring, orb.Point{x, y})
		}
		if len(ring) >= 3 {
			rings = append(rings, ring)
		}
	}
	if len(rings) == 0 {
		return nil, nil
	}

	return assemblePolygons(rings), nil
}

// assemblePolygons groups rings into polygons by winding order: shapefile
// outer rings wind clockwise and open a new polygon, counter-clockwise
// rings are holes of the polygon most recently opened.
func assemblePolygons(rings []orb.Ring) orb.Geometry {
	var polys orb.MultiPolygon
	for _, ring := range rings {
		if ring.Orientation() == orb.CW || len(polys) == 0 {
			polys = append(polys, orb.Polygon{ring})
			continue
		}
		polys[len(polys)-1] = append(polys[len(polys)-1], ring)
	}
	if len(polys) == 1 {
		return polys[0]
	}
	return polys
}
