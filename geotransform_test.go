package towerprep

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func TestPixel(t *testing.T) {
	testfunc := func(gt GeoTransform, x, y float64, col, row int) {
		t.Helper()
		c, r := gt.Pixel(orb.Point{x, y})
		assert.Equal(t, col, c)
		assert.Equal(t, row, r)
	}
	northUp := GeoTransform{0, 1, 0, 0, 0, -1}
	cases := []struct {
		gt       GeoTransform
		x, y     float64
		col, row int
	}{
		{northUp, 0, 0, 0, 0},
		{northUp, 500, -500, 500, 500},
		{northUp, 500.4, -500.4, 500, 500},
		{northUp, 499.6, -499.6, 500, 500},
		{GeoTransform{-13, 0.5, 0, 9, 0, -0.5}, -13, 9, 0, 0},
		{GeoTransform{-13, 0.5, 0, 9, 0, -0.5}, -12, 8, 2, 2},
	}
	for _, c := range cases {
		testfunc(c.gt, c.x, c.y, c.col, c.row)
	}
}

func TestApplyPixelRoundtrip(t *testing.T) {
	gt := GeoTransform{12.5, 0.25, 0, -3.5, 0, -0.25}
	for _, px := range [][2]int{{0, 0}, {17, 3}, {511, 511}} {
		p := gt.Apply(float64(px[0]), float64(px[1]))
		col, row := gt.Pixel(p)
		assert.Equal(t, px[0], col)
		assert.Equal(t, px[1], row)
	}
}

func TestFootprint(t *testing.T) {
	gt := GeoTransform{0, 1, 0, 0, 0, -1}
	poly := gt.Footprint(0, 0, 1000, 1000)
	expected := orb.Polygon{orb.Ring{
		{0, 0}, {1000, 0}, {1000, -1000}, {0, -1000}, {0, 0},
	}}
	assert.Equal(t, expected, poly)
}

func TestFootprintOffsetWindow(t *testing.T) {
	gt := GeoTransform{10, 0.5, 0, 20, 0, -0.5}
	poly := gt.Footprint(4, 8, 2, 2)
	expected := orb.Polygon{orb.Ring{
		{12, 16}, {13, 16}, {13, 15}, {12, 15}, {12, 16},
	}}
	assert.Equal(t, expected, poly)
}
