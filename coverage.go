package towerprep

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"go.airbusds-geo.com/log"
)

// crs member written on persisted feature collections. Tile corner
// coordinates are assumed to already be in EPSG:4326, no reprojection is
// performed.
var crs4326 = map[string]interface{}{
	"type": "name",
	"properties": map[string]interface{}{
		"name": "urn:ogc:def:crs:EPSG::4326",
	},
}

// A CoverageRecord associates a raster tile with its geographic footprint.
type CoverageRecord struct {
	Filename  string
	Footprint orb.Polygon
}

// A CoverageIndex lists the footprints of a set of raster tiles and is
// used to locate the tile(s) containing a given point.
type CoverageIndex struct {
	records []CoverageRecord
	seen    map[string]bool
}

func NewCoverageIndex() *CoverageIndex {
	return &CoverageIndex{seen: make(map[string]bool)}
}

// Append adds a record to the index. A filename already present is skipped,
// so that resuming from a saved index and re-scanning the same directory
// does not create duplicates.
func (ci *CoverageIndex) Append(rec CoverageRecord) bool {
	if ci.seen[rec.Filename] {
		return false
	}
	ci.seen[rec.Filename] = true
	ci.records = append(ci.records, rec)
	return true
}

func (ci *CoverageIndex) Len() int {
	return len(ci.records)
}

func (ci *CoverageIndex) Records() []CoverageRecord {
	return ci.records
}

// Containing returns the records whose footprint contains p, in index
// order.
func (ci *CoverageIndex) Containing(p orb.Point) []CoverageRecord {
	var recs []CoverageRecord
	for _, rec := range ci.records {
		if planar.PolygonContains(rec.Footprint, p) {
			recs = append(recs, rec)
		}
	}
	return recs
}

// FeatureCollection converts the index to a GeoJSON feature collection
// tagged with the EPSG:4326 crs member.
func (ci *CoverageIndex) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{"crs": crs4326}
	for _, rec := range ci.records {
		f := geojson.NewFeature(rec.Footprint)
		f.Properties["filename"] = rec.Filename
		fc.Append(f)
	}
	return fc
}

// WriteFile persists the index as GeoJSON.
func (ci *CoverageIndex) WriteFile(path string) error {
	buf, err := ci.FeatureCollection().MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal coverage: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// LoadCoverage reads a coverage index from a GeoJSON file previously
// written by WriteFile.
func LoadCoverage(path string) (*CoverageIndex, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(buf)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	ci := NewCoverageIndex()
	for i, f := range fc.Features {
		poly, ok := f.Geometry.(orb.Polygon)
		if !ok {
			return nil, fmt.Errorf("%s: feature %d: geometry is %s, expecting Polygon", path, i, f.Geometry.GeoJSONType())
		}
		name, ok := f.Properties["filename"].(string)
		if !ok {
			return nil, fmt.Errorf("%s: feature %d: missing filename property", path, i)
		}
		ci.Append(CoverageRecord{Filename: name, Footprint: poly})
	}
	return ci, nil
}

type indexer struct {
	suffix string
	resume string
}

type IndexOption func(ix *indexer) error

// TileSuffix sets the filename suffix selecting tile files. Defaults to
// ".tif".
func TileSuffix(suffix string) IndexOption {
	return func(ix *indexer) error {
		if suffix == "" {
			return ErrInvalidOption{"tile suffix must not be empty"}
		}
		ix.suffix = suffix
		return nil
	}
}

// ResumeFrom seeds the index from a previously saved coverage file. A file
// that cannot be read or parsed is ignored and indexing starts empty.
func ResumeFrom(path string) IndexOption {
	return func(ix *indexer) error {
		if path == "" {
			return ErrInvalidOption{"resume path must not be empty"}
		}
		ix.resume = path
		return nil
	}
}

// IndexDirectory scans dir (non recursive) for tile files and returns a
// coverage index with one footprint per tile. A tile that cannot be opened
// or that carries no geotransform fails the whole run.
func IndexDirectory(ctx context.Context, dir string, opts ...IndexOption) (*CoverageIndex, error) {
	ix := indexer{suffix: ".tif"}
	for _, o := range opts {
		if err := o(&ix); err != nil {
			return nil, err
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	index := NewCoverageIndex()
	if ix.resume != "" {
		if resumed, err := LoadCoverage(ix.resume); err == nil {
			index = resumed
			log.Logger(ctx).Sugar().Infof("resuming from %s (%d tiles)", ix.resume, index.Len())
		}
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ix.suffix) {
			continue
		}
		rec, err := tileFootprint(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		index.Append(rec)
	}
	return index, nil
}

func tileFootprint(path string) (CoverageRecord, error) {
	ds, err := godal.Open(path, godal.RasterOnly())
	if err != nil {
		return CoverageRecord{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer ds.Close()
	gt, err := ds.GeoTransform()
	if err != nil {
		return CoverageRecord{}, fmt.Errorf("geotransform of %s: %w", path, err)
	}
	st := ds.Structure()
	return CoverageRecord{
		Filename:  path,
		Footprint: GeoTransform(gt).Footprint(0, 0, st.SizeX, st.SizeY),
	}, nil
}
