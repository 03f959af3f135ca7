package domain

import "math"

// Affine maps pixel (col, row) to geographic (x, y):
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// Apply returns the geographic position of the given pixel corner.
func (t Affine) Apply(col, row float64) (x, y float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// Invert maps a geographic position back to fractional pixel space.
func (t Affine) Invert(x, y float64) (col, row float64, ok bool) {
	det := t.A*t.E - t.B*t.D
	if det == 0 {
		return 0, 0, false
	}
	dx, dy := x-t.C, y-t.F
	col = (t.E*dx - t.B*dy) / det
	row = (-t.D*dx + t.A*dy) / det
	return col, row, true
}

// ElevationRaster is a single-band elevation grid in row-major order.
type ElevationRaster struct {
	Width     int
	Height    int
	Transform Affine
	Data      []float64
	NoData    *float64
	EPSG      int
}

// RowCol maps a coordinate to the cell containing it. The result may lie
// outside the grid; check it with InBounds.
func (r *ElevationRaster) RowCol(lon, lat float64) (row, col int) {
	c, rw, ok := r.Transform.Invert(lon, lat)
	if !ok {
		return -1, -1
	}
	return int(math.Floor(rw)), int(math.Floor(c))
}

// InBounds reports whether (row, col) addresses a cell of the grid.
func (r *ElevationRaster) InBounds(row, col int) bool {
	return row >= 0 && row < r.Height && col >= 0 && col < r.Width
}

// At returns the value of a cell and whether it holds data.
func (r *ElevationRaster) At(row, col int) (float64, bool) {
	if !r.InBounds(row, col) {
		return 0, false
	}
	v := r.Data[row*r.Width+col]
	if math.IsNaN(v) {
		return 0, false
	}
	if r.NoData != nil && v == *r.NoData {
		return 0, false
	}
	return v, true
}
