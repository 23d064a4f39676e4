// Package gridindex implements a fixed-extent 2D grid used for nearest neighbor queries and
// for subsampling point sets to one representative per cell.
package gridindex

import (
	"math"

	"github.com/viamrobotics/viam-laserslam/geometry"
)

const (
	// DefaultCellSize is the side of one cell in meters.
	DefaultCellSize = 0.05
	// DefaultExtent is the half width of the indexed square in meters.
	DefaultExtent = 40.0
)

// entry is a copy of an indexed point plus the caller's handle for it.
type entry struct {
	p geometry.Point
	h int
}

// Table indexes points by cell. Points outside [-extent, extent] on either axis are dropped.
// Cells are allocated lazily so only occupied cells cost memory.
type Table struct {
	cellSize float64
	half     int
	width    int

	cells map[int][]entry
	// order keeps cells in first-insertion order so iteration is deterministic.
	order []int
	size  int
}

// New returns a table with the given cell size and half extent.
func New(cellSize, extent float64) *Table {
	half := int(extent / cellSize)
	return &Table{
		cellSize: cellSize,
		half:     half,
		width:    2*half + 1,
		cells:    make(map[int][]entry),
	}
}

// NewDefault returns a table with a 5cm cell over a 80m x 80m square.
func NewDefault() *Table {
	return New(DefaultCellSize, DefaultExtent)
}

// Size returns the number of indexed points.
func (t *Table) Size() int {
	return t.size
}

// Clear removes every point but keeps the configuration.
func (t *Table) Clear() {
	clear(t.cells)
	t.order = t.order[:0]
	t.size = 0
}

func (t *Table) cellIndex(x, y float64) (int, int, bool) {
	ix := int(math.Floor(x/t.cellSize)) + t.half
	iy := int(math.Floor(y/t.cellSize)) + t.half
	if ix < 0 || ix >= t.width || iy < 0 || iy >= t.width {
		return 0, 0, false
	}
	return ix, iy, true
}

// Insert indexes p under handle h. It returns false if p lies outside the table.
func (t *Table) Insert(p geometry.Point, h int) bool {
	ix, iy, ok := t.cellIndex(p.X, p.Y)
	if !ok {
		return false
	}
	key := iy*t.width + ix
	cell, exists := t.cells[key]
	if !exists {
		t.order = append(t.order, key)
	}
	t.cells[key] = append(cell, entry{p: p, h: h})
	t.size++
	return true
}

// Nearest returns the handle and copy of the indexed point closest to (x, y) within gate meters.
func (t *Table) Nearest(x, y, gate float64) (int, geometry.Point, bool) {
	ix, iy, ok := t.cellIndex(x, y)
	if !ok {
		return 0, geometry.Point{}, false
	}
	r := int(math.Ceil(gate / t.cellSize))
	gate2 := gate * gate
	best := math.MaxFloat64
	var bestEntry entry
	found := false
	for j := iy - r; j <= iy+r; j++ {
		if j < 0 || j >= t.width {
			continue
		}
		for i := ix - r; i <= ix+r; i++ {
			if i < 0 || i >= t.width {
				continue
			}
			for _, e := range t.cells[j*t.width+i] {
				dx := e.p.X - x
				dy := e.p.Y - y
				d := dx*dx + dy*dy
				if d <= gate2 && d < best {
					best = d
					bestEntry = e
					found = true
				}
			}
		}
	}
	return bestEntry.h, bestEntry.p, found
}

// RepresentativePoints returns one synthetic Line point per cell holding at least minCount points.
// Its position and scan id are the cell means and its normal is the normalized mean normal.
func (t *Table) RepresentativePoints(minCount int) []geometry.Point {
	out := make([]geometry.Point, 0, len(t.order))
	for _, key := range t.order {
		cell := t.cells[key]
		if len(cell) == 0 || len(cell) < minCount {
			continue
		}
		var x, y, nx, ny, atd float64
		sid := 0
		for _, e := range cell {
			x += e.p.X
			y += e.p.Y
			nx += e.p.NX
			ny += e.p.NY
			atd += e.p.ATD
			sid += e.p.ScanID
		}
		n := float64(len(cell))
		rep := geometry.NewPoint(sid/len(cell), x/n, y/n)
		rep.ATD = atd / n
		if l := math.Hypot(nx, ny); l > 0 {
			rep.SetNormal(nx/l, ny/l)
		}
		rep.Type = geometry.Line
		out = append(out, rep)
	}
	return out
}
