package towerprep

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleExample(name string) Example {
	return Example{
		Filename:  name,
		ULX:       241,
		ULY:       243,
		LRX:       271,
		LRY:       268,
		Footprint: orb.Polygon{orb.Ring{{0, 0}, {512, 0}, {512, -512}, {0, -512}, {0, 0}}},
	}
}

func TestDatasetWriteFile(t *testing.T) {
	d := &Dataset{}
	d.Append(sampleExample("7"))
	d.Append(sampleExample("8"))
	require.Equal(t, 2, d.Len())

	path := filepath.Join(t.TempDir(), "tower_examples.geojson")
	require.NoError(t, d.WriteFile(path))

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(buf)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)

	f := fc.Features[0]
	assert.Equal(t, "7", f.Properties["filename"])
	assert.Equal(t, float64(241), f.Properties["ul_x"])
	assert.Equal(t, float64(243), f.Properties["ul_y"])
	assert.Equal(t, float64(271), f.Properties["lr_x"])
	assert.Equal(t, float64(268), f.Properties["lr_y"])
	assert.Equal(t, sampleExample("7").Footprint, f.Geometry)
}

func TestDatasetWriteFileOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tower_examples.geojson")

	d := &Dataset{}
	d.Append(sampleExample("7"))
	require.NoError(t, d.WriteFile(path))
	d.Append(sampleExample("8"))
	require.NoError(t, d.WriteFile(path))

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(buf)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 2)

	// no staging leftovers next to the dataset
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDatasetWriteFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tower_examples.geojson")
	d := &Dataset{}
	require.NoError(t, d.WriteFile(path))

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(buf)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 0)
}
