package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the file form of an export request, used by the CLI to
// submit jobs without going through the HTTP API.
//
// Example (YAML):
//
//	kind: indices
//	geometry_file: paddock.geojson
//	start_year: 2022
//	end_year: 2024
//	indices: [NDVI, EVI]
//	scale: 10
type Manifest struct {
	// Kind selects the export flavor: "indices" (default) or "zones".
	Kind Kind `json:"kind,omitempty" yaml:"kind,omitempty"`

	// Geometry is an inline GeoJSON FeatureCollection. Mutually
	// exclusive with GeometryFile.
	Geometry json.RawMessage `json:"geometry,omitempty" yaml:"-"`

	// GeometryFile is a path to a GeoJSON file, resolved relative to the
	// manifest's own directory.
	GeometryFile string `json:"geometry_file,omitempty" yaml:"geometry_file,omitempty"`

	StartYear int `json:"start_year,omitempty" yaml:"start_year,omitempty"`
	EndYear   int `json:"end_year,omitempty" yaml:"end_year,omitempty"`

	Indices        []string `json:"indices,omitempty" yaml:"indices,omitempty"`
	ExcludeClasses []int    `json:"exclude_classes,omitempty" yaml:"exclude_classes,omitempty"`
	Scale          int      `json:"scale,omitempty" yaml:"scale,omitempty"`
	Clusters       int      `json:"clusters,omitempty" yaml:"clusters,omitempty"`
}

// LoadManifest reads a manifest from path. The format follows the file
// extension: .json for JSON, anything else is parsed as YAML.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("manifest file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest file is empty: %s", path)
	}

	var m Manifest
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &m)
	} else {
		err = yaml.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	if len(m.Geometry) > 0 && m.GeometryFile != "" {
		return nil, fmt.Errorf("manifest sets both geometry and geometry_file")
	}
	if m.GeometryFile != "" {
		geomPath := m.GeometryFile
		if !filepath.IsAbs(geomPath) {
			geomPath = filepath.Join(filepath.Dir(path), geomPath)
		}
		geom, err := os.ReadFile(geomPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read geometry file %s: %w", geomPath, err)
		}
		if !json.Valid(geom) {
			return nil, fmt.Errorf("geometry file %s is not valid JSON", geomPath)
		}
		m.Geometry = geom
	}

	return &m, nil
}

// Request builds a normalized, validated export request under the given
// job id.
func (m *Manifest) Request(jobID string, now time.Time) (Request, error) {
	req := Request{
		JobID:          jobID,
		Kind:           m.Kind,
		Geometry:       m.Geometry,
		StartYear:      m.StartYear,
		EndYear:        m.EndYear,
		Indices:        m.Indices,
		ExcludeClasses: m.ExcludeClasses,
		Scale:          m.Scale,
		Clusters:       m.Clusters,
	}
	req.Normalize(now)
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}
