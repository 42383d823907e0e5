package towerprep

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// An Example records one produced training chip: the image file name
// (derived from the asset id), the tower bounding box in the chip's local
// pixel frame (ul_x, ul_y, lr_x, lr_y) and the chip's geographic footprint.
type Example struct {
	Filename  string
	ULX, ULY  int
	LRX, LRY  int
	Footprint orb.Polygon
}

// A Dataset accumulates examples during an extraction run and is persisted
// as a GeoJSON feature collection at each checkpoint.
type Dataset struct {
	examples []Example
}

func (d *Dataset) Append(e Example) {
	d.examples = append(d.examples, e)
}

func (d *Dataset) Len() int {
	return len(d.examples)
}

func (d *Dataset) Examples() []Example {
	return d.examples
}

// FeatureCollection converts the dataset to a GeoJSON feature collection
// tagged with the EPSG:4326 crs member.
func (d *Dataset) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{"crs": crs4326}
	for _, e := range d.examples {
		f := geojson.NewFeature(e.Footprint)
		f.Properties["filename"] = e.Filename
		f.Properties["ul_x"] = e.ULX
		f.Properties["ul_y"] = e.ULY
		f.Properties["lr_x"] = e.LRX
		f.Properties["lr_y"] = e.LRY
		fc.Append(f)
	}
	return fc
}

// WriteFile atomically replaces path with the current dataset. The data is
// staged in a uniquely named sibling file and renamed into place so that an
// interrupted checkpoint never leaves a half-written dataset behind.
func (d *Dataset) WriteFile(path string) error {
	buf, err := d.FeatureCollection().MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal dataset: %w", err)
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+uuid.New().String())
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
