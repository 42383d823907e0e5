package towerprep

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// An Asset is a point feature to extract a training example for.
type Asset struct {
	ID       int64
	Location orb.Point
}

// LoadAssets reads point assets from a GeoJSON feature collection. Each
// feature must carry a numeric id property and a point geometry.
func LoadAssets(path string) ([]Asset, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(buf)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	assets := make([]Asset, 0, len(fc.Features))
	for i, f := range fc.Features {
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			return nil, fmt.Errorf("%s: feature %d: geometry is %s, expecting Point", path, i, f.Geometry.GeoJSONType())
		}
		id, err := assetID(f.Properties)
		if err != nil {
			return nil, fmt.Errorf("%s: feature %d: %w", path, i, err)
		}
		assets = append(assets, Asset{ID: id, Location: pt})
	}
	return assets, nil
}

func assetID(props geojson.Properties) (int64, error) {
	v, ok := props["id"]
	if !ok {
		return 0, fmt.Errorf("missing id property")
	}
	switch id := v.(type) {
	case float64:
		return int64(id), nil
	case int:
		return int64(id), nil
	case int64:
		return id, nil
	default:
		return 0, fmt.Errorf("id property is %T, expecting a number", v)
	}
}

// A Match pairs an asset with a tile whose footprint contains it.
type Match struct {
	Asset Asset
	Tile  string
}

// Join performs the inner spatial join between assets and the coverage
// index. Assets outside every footprint are dropped; an asset inside
// several overlapping tiles yields one match per tile.
func Join(assets []Asset, coverage *CoverageIndex) []Match {
	var matches []Match
	for _, a := range assets {
		for _, rec := range coverage.Containing(a.Location) {
			matches = append(matches, Match{Asset: a, Tile: rec.Filename})
		}
	}
	return matches
}
