package towerprep

import (
	"math"

	"github.com/paulmach/orb"
)

// A GeoTransform holds the 6 GDAL affine coefficients mapping pixel
// (column,row) indices to geographic coordinates.
type GeoTransform [6]float64

// Origin returns the geographic coordinates of the raster's upper-left
// corner.
func (gt GeoTransform) Origin() (x, y float64) {
	return gt[0], gt[3]
}

// PixelSize returns the size of one pixel in geographic units. The y size
// is negative for north-up rasters.
func (gt GeoTransform) PixelSize() (x, y float64) {
	return gt[1], gt[5]
}

// Apply maps a pixel position to the geographic coordinates of its
// upper-left corner.
func (gt GeoTransform) Apply(col, row float64) orb.Point {
	return orb.Point{
		gt[0] + col*gt[1] + row*gt[2],
		gt[3] + col*gt[4] + row*gt[5],
	}
}

// Pixel maps a geographic coordinate to the nearest pixel position.
// Rotation terms are ignored: tiles are assumed north-up.
func (gt GeoTransform) Pixel(p orb.Point) (col, row int) {
	col = int(math.Round((p[0] - gt[0]) / gt[1]))
	row = int(math.Round((p[1] - gt[3]) / gt[5]))
	return col, row
}

// Footprint returns the geographic outline of a window of the given pixel
// size anchored at pixel (col,row), as a closed ring in upper-left,
// upper-right, lower-right, lower-left order.
func (gt GeoTransform) Footprint(col, row, width, height int) orb.Polygon {
	ul := gt.Apply(float64(col), float64(row))
	ur := gt.Apply(float64(col+width), float64(row))
	lr := gt.Apply(float64(col+width), float64(row+height))
	ll := gt.Apply(float64(col), float64(row+height))
	return orb.Polygon{orb.Ring{ul, ur, lr, ll, ul}}
}
