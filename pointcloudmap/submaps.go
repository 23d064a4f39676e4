package pointcloudmap

import (
	"github.com/pkg/errors"

	"github.com/viamrobotics/viam-laserslam/geometry"
	"github.com/viamrobotics/viam-laserslam/gridindex"
)

// DefaultSubmapTravel is the travel distance in meters after which a new submap is opened.
const DefaultSubmapTravel = 10.0

// Submap is a run of consecutive scans. Closed submaps only hold their representative points.
type Submap struct {
	// ATDStart is the travel distance when the submap was opened.
	ATDStart float64
	// Start and End are the first and last pose indices. End is -1 while the submap is open.
	Start  int
	End    int
	Points []geometry.Point
}

// Open reports whether scans are still being added to the submap.
func (s Submap) Open() bool {
	return s.End < 0
}

// Submaps partitions the trajectory by travel distance. Only the newest submap is open. The
// local map is the previous submap plus the representatives of the open one.
type Submaps struct {
	base
	Travel  float64
	submaps []Submap
	table   *gridindex.Table
}

// NewSubmaps returns a submap partitioned map with one empty open submap.
func NewSubmaps(capacity int) *Submaps {
	return &Submaps{
		base:    newBase(capacity),
		Travel:  DefaultSubmapTravel,
		submaps: []Submap{{End: -1}},
		table:   gridindex.NewDefault(),
	}
}

// Submaps returns every submap, oldest first. The last one is open. Callers must not modify it.
func (m *Submaps) Submaps() []Submap {
	return m.submaps
}

// AddPoints implements Map. Once the travel since the open submap started reaches the
// threshold, the open submap is closed and compacted and pts start a new one.
func (m *Submaps) AddPoints(pts []geometry.Point) error {
	cur := &m.submaps[len(m.submaps)-1]
	if m.atd-cur.ATDStart >= m.Travel {
		n := len(m.poses)
		cur.End = n - 1
		cur.Points = subsample(m.table, cur.Points, m.nthre)
		m.submaps = append(m.submaps, Submap{ATDStart: m.atd, Start: n, End: -1})
		cur = &m.submaps[len(m.submaps)-1]
	}
	kept, err := m.admit(pts, m.Size())
	cur.Points = append(cur.Points, kept...)
	return err
}

// MakeGlobalMap collects every closed submap and the representatives of the open one. It also
// refreshes the local map.
func (m *Submaps) MakeGlobalMap() {
	last := len(m.submaps) - 1
	m.globalMap = make([]geometry.Point, 0, m.Size())
	m.localMap = nil
	for i := 0; i < last; i++ {
		m.globalMap = append(m.globalMap, m.submaps[i].Points...)
	}
	if last > 0 {
		m.localMap = append(m.localMap, m.submaps[last-1].Points...)
	}
	reps := subsample(m.table, m.submaps[last].Points, m.nthre)
	m.globalMap = append(m.globalMap, reps...)
	m.localMap = append(m.localMap, reps...)
}

// MakeLocalMap implements Map.
func (m *Submaps) MakeLocalMap() {
	m.localMap = nil
	last := len(m.submaps) - 1
	if last > 0 {
		m.localMap = append(m.localMap, m.submaps[last-1].Points...)
	}
	m.localMap = append(m.localMap, subsample(m.table, m.submaps[last].Points, m.nthre)...)
}

// RemakeMaps moves every stored point from the pose of its scan to the corrected pose of that
// scan, rebuilds both maps and adopts newPoses as the trajectory.
func (m *Submaps) RemakeMaps(newPoses []geometry.Pose) error {
	if len(newPoses) != len(m.poses) {
		return errors.Errorf("corrected trajectory has %d poses, map has %d", len(newPoses), len(m.poses))
	}
	for i := range m.submaps {
		pts := m.submaps[i].Points
		for j, p := range pts {
			sid := p.ScanID
			if sid < 0 || sid >= len(m.poses) {
				continue
			}
			pts[j] = newPoses[sid].GlobalPoint(m.poses[sid].RelativePoint(p))
		}
	}
	m.MakeGlobalMap()
	m.poses = append([]geometry.Pose(nil), newPoses...)
	if n := len(newPoses); n > 0 {
		m.lastPose = newPoses[n-1]
	}
	return nil
}

// Size implements Map.
func (m *Submaps) Size() int {
	n := 0
	for _, s := range m.submaps {
		n += len(s.Points)
	}
	return n
}
