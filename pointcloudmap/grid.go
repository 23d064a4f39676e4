package pointcloudmap

import (
	"github.com/viamrobotics/viam-laserslam/geometry"
	"github.com/viamrobotics/viam-laserslam/gridindex"
)

// Grid keeps every point and builds the global map from one representative per grid cell. The
// local map is the last global map. Stored points are never corrected.
type Grid struct {
	base
	all   []geometry.Point
	table *gridindex.Table
}

// NewGrid returns a grid subsampled map.
func NewGrid(capacity int) *Grid {
	return &Grid{base: newBase(capacity), table: gridindex.NewDefault()}
}

// AddPoints implements Map.
func (m *Grid) AddPoints(pts []geometry.Point) error {
	kept, err := m.admit(pts, len(m.all))
	m.all = append(m.all, kept...)
	return err
}

// MakeGlobalMap rebuilds the global map from cells holding at least nthre points.
func (m *Grid) MakeGlobalMap() {
	m.globalMap = subsample(m.table, m.all, m.nthre)
}

// MakeLocalMap reuses the global map.
func (m *Grid) MakeLocalMap() {
	m.localMap = m.globalMap
}

// RemakeMaps is a no-op: neither stored points nor the trajectory are corrected.
func (m *Grid) RemakeMaps(newPoses []geometry.Pose) error {
	return nil
}

// Size implements Map.
func (m *Grid) Size() int {
	return len(m.all)
}

func subsample(table *gridindex.Table, pts []geometry.Point, nthre int) []geometry.Point {
	table.Clear()
	for i, p := range pts {
		table.Insert(p, i)
	}
	return table.RepresentativePoints(nthre)
}
