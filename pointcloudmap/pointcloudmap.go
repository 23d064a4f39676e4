// Package pointcloudmap accumulates registered scan points and exposes the global map and the
// local reference map used for scan matching.
package pointcloudmap

import (
	"math"

	"github.com/pkg/errors"

	"github.com/viamrobotics/viam-laserslam/geometry"
)

// DefaultCapacity is the default maximum number of stored points.
const DefaultCapacity = 1000000

// ErrMapFull is returned when points are dropped because the map is at capacity.
var ErrMapFull = errors.New("point cloud map is full")

// Map stores the trajectory and the points registered along it.
type Map interface {
	// AddPose appends the estimated pose of the scan being added.
	AddPose(p geometry.Pose)
	// AddPoints stores map frame points. Points beyond capacity are dropped and ErrMapFull is
	// returned.
	AddPoints(pts []geometry.Point) error
	MakeGlobalMap()
	MakeLocalMap()
	// RemakeMaps moves the stored points onto a corrected trajectory and adopts it.
	RemakeMaps(newPoses []geometry.Pose) error

	SetNThre(n int)
	SetLastPose(p geometry.Pose)
	LastPose() geometry.Pose
	SetLastScan(s geometry.Scan)
	LastScan() geometry.Scan

	Poses() []geometry.Pose
	GlobalMap() []geometry.Point
	LocalMap() []geometry.Point
	// ATD is the accumulated travel distance of the trajectory in meters.
	ATD() float64
	// Size is the number of points held against capacity.
	Size() int
}

type base struct {
	capacity int
	nthre    int
	atd      float64

	poses     []geometry.Pose
	lastPose  geometry.Pose
	lastScan  geometry.Scan
	globalMap []geometry.Point
	localMap  []geometry.Point
}

func newBase(capacity int) base {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return base{capacity: capacity, nthre: 1}
}

func (b *base) AddPose(p geometry.Pose) {
	prev := geometry.Pose{}
	if n := len(b.poses); n > 0 {
		prev = b.poses[n-1]
	}
	b.atd += math.Hypot(p.Tx-prev.Tx, p.Ty-prev.Ty)
	b.poses = append(b.poses, p)
}

func (b *base) SetNThre(n int) {
	b.nthre = n
}

func (b *base) SetLastPose(p geometry.Pose) {
	b.lastPose = p
}

func (b *base) LastPose() geometry.Pose {
	return b.lastPose
}

func (b *base) SetLastScan(s geometry.Scan) {
	b.lastScan = s
}

func (b *base) LastScan() geometry.Scan {
	return b.lastScan
}

func (b *base) Poses() []geometry.Pose {
	return b.poses
}

func (b *base) GlobalMap() []geometry.Point {
	return b.globalMap
}

func (b *base) LocalMap() []geometry.Point {
	return b.localMap
}

func (b *base) ATD() float64 {
	return b.atd
}

// admit stamps pts with the current travel distance and trims them to the remaining room.
func (b *base) admit(pts []geometry.Point, stored int) ([]geometry.Point, error) {
	room := b.capacity - stored
	var err error
	if room < len(pts) {
		if room < 0 {
			room = 0
		}
		err = errors.Wrapf(ErrMapFull, "dropped %d of %d points", len(pts)-room, len(pts))
		pts = pts[:room]
	}
	out := make([]geometry.Point, len(pts))
	for i, p := range pts {
		p.ATD = b.atd
		out[i] = p
	}
	return out, err
}

// All keeps a fixed fraction of every scan in a single global map. It has no local map and
// never corrects stored points.
type All struct {
	base
	Skip int
}

// NewAll returns a map that keeps every fifth point.
func NewAll(capacity int) *All {
	return &All{base: newBase(capacity), Skip: 5}
}

// AddPoints implements Map.
func (m *All) AddPoints(pts []geometry.Point) error {
	skip := max(m.Skip, 1)
	kept := make([]geometry.Point, 0, len(pts)/skip+1)
	for i := 0; i < len(pts); i += skip {
		kept = append(kept, pts[i])
	}
	kept, err := m.admit(kept, len(m.globalMap))
	m.globalMap = append(m.globalMap, kept...)
	return err
}

// MakeGlobalMap is a no-op: points go straight into the global map.
func (m *All) MakeGlobalMap() {}

// MakeLocalMap is a no-op.
func (m *All) MakeLocalMap() {}

// RemakeMaps is a no-op: neither stored points nor the trajectory are corrected.
func (m *All) RemakeMaps(newPoses []geometry.Pose) error {
	return nil
}

// Size implements Map.
func (m *All) Size() int {
	return len(m.globalMap)
}
