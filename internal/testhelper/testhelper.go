// Package testhelper builds synthetic worlds and sensor data shared across tests.
package testhelper

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/viamrobotics/viam-laserslam/geometry"
)

// Room is an axis aligned rectangle centered on the origin. Sensors are assumed to be inside.
type Room struct {
	HalfWidth  float64
	HalfHeight float64
}

// Walls samples the four walls every spacing meters. Points carry inward facing normals and are
// typed as Line points.
func (r Room) Walls(spacing float64) []geometry.Point {
	var pts []geometry.Point
	nx := int(math.Round(2 * r.HalfWidth / spacing))
	ny := int(math.Round(2 * r.HalfHeight / spacing))
	wall := func(x, y, nX, nY float64) {
		p := geometry.NewPoint(0, x, y)
		p.SetNormal(nX, nY)
		p.Type = geometry.Line
		pts = append(pts, p)
	}
	for i := 0; i < nx; i++ {
		x := -r.HalfWidth + float64(i)*spacing
		wall(x, -r.HalfHeight, 0, 1)
		wall(-x, r.HalfHeight, 0, -1)
	}
	for i := 0; i < ny; i++ {
		y := -r.HalfHeight + float64(i)*spacing
		wall(r.HalfWidth, y, -1, 0)
		wall(-r.HalfWidth, -y, 1, 0)
	}
	return pts
}

// RayCast returns the distance from (x, y) along the global heading dirDeg to the first wall.
func (r Room) RayCast(x, y, dirDeg float64) float64 {
	a := geometry.DegToRad(dirDeg)
	c, s := math.Cos(a), math.Sin(a)
	best := math.Inf(1)
	if c > 1e-12 {
		best = math.Min(best, (r.HalfWidth-x)/c)
	} else if c < -1e-12 {
		best = math.Min(best, (-r.HalfWidth-x)/c)
	}
	if s > 1e-12 {
		best = math.Min(best, (r.HalfHeight-y)/s)
	} else if s < -1e-12 {
		best = math.Min(best, (-r.HalfHeight-y)/s)
	}
	return best
}

// Ranges simulates a full sweep of beams taken from pose. Beam k points at k*360/beams degrees
// in the sensor frame.
func (r Room) Ranges(pose geometry.Pose, beams int) (angles, ranges []float64) {
	angles = make([]float64, beams)
	ranges = make([]float64, beams)
	for k := range beams {
		a := float64(k) * 360 / float64(beams)
		angles[k] = a
		ranges[k] = r.RayCast(pose.Tx, pose.Ty, pose.Th()+a)
	}
	return angles, ranges
}

// ScanAt simulates a sweep from pose and returns it in the sensor frame. Returns beyond maxRange
// are dropped. odom is stored as the scan's odometry pose.
func (r Room) ScanAt(id int, pose, odom geometry.Pose, beams int, maxRange float64) geometry.Scan {
	angles, ranges := r.Ranges(pose, beams)
	scan := geometry.Scan{ID: id, Pose: odom}
	for k, rng := range ranges {
		if rng >= maxRange {
			continue
		}
		a := geometry.DegToRad(angles[k])
		scan.Points = append(scan.Points, geometry.NewPoint(id, rng*math.Cos(a), rng*math.Sin(a)))
	}
	return scan
}

// RelativeTo maps global points into the frame of pose.
func RelativeTo(pose geometry.Pose, pts []geometry.Point) []geometry.Point {
	out := make([]geometry.Point, len(pts))
	for i, p := range pts {
		out[i] = pose.RelativePoint(p)
	}
	return out
}

// Path accumulates a trajectory from straight moves and turns in place.
type Path struct {
	Poses []geometry.Pose
}

// NewPath starts a path at start.
func NewPath(start geometry.Pose) *Path {
	return &Path{Poses: []geometry.Pose{start}}
}

func (p *Path) last() geometry.Pose {
	return p.Poses[len(p.Poses)-1]
}

// Forward drives dist meters along the current heading in steps of step meters.
func (p *Path) Forward(dist, step float64) *Path {
	n := int(math.Round(dist / step))
	for range n {
		p.Poses = append(p.Poses, geometry.GlobalPose(geometry.NewPose(step, 0, 0), p.last()))
	}
	return p
}

// Turn rotates in place by deg degrees in steps of step degrees.
func (p *Path) Turn(deg, step float64) *Path {
	n := int(math.Round(math.Abs(deg) / step))
	d := math.Copysign(step, deg)
	for range n {
		last := p.last()
		p.Poses = append(p.Poses, geometry.NewPose(last.Tx, last.Ty, geometry.AddDeg(last.Th(), d)))
	}
	return p
}

// DriftedOdometry replays truth as an odometer would report it, with every translation scaled by
// transScale and every rotation by rotScale. The first odometry pose is the origin.
func DriftedOdometry(truth []geometry.Pose, transScale, rotScale float64) []geometry.Pose {
	if len(truth) == 0 {
		return nil
	}
	odom := []geometry.Pose{{}}
	for i := 1; i < len(truth); i++ {
		rel := geometry.RelativePose(truth[i], truth[i-1])
		rel = geometry.NewPose(rel.Tx*transScale, rel.Ty*transScale, rel.Th()*rotScale)
		odom = append(odom, geometry.GlobalPose(rel, odom[i-1]))
	}
	return odom
}

// DatasetAngleOffsetDeg is subtracted from beam angles written by WriteDataset, so a reader with
// the default offset recovers the sensor frame.
const DatasetAngleOffsetDeg = 180.0

// WriteDataset writes a LASERSCAN dataset of sweeps from every truth pose, each tagged with the
// matching odom pose, and returns its path. An ODOMETRY line precedes every scan.
func WriteDataset(t *testing.T, r Room, truth, odom []geometry.Pose, beams int) string {
	t.Helper()
	var b strings.Builder
	for i, pose := range truth {
		o := odom[i]
		th := geometry.DegToRad(o.Th())
		fmt.Fprintf(&b, "ODOMETRY %d %d 0 %f %f %f\n", i, i, o.Tx, o.Ty, th)
		angles, ranges := r.Ranges(pose, beams)
		fmt.Fprintf(&b, "LASERSCAN %d %d %d %d", i, i, 500000000, beams)
		for k := range angles {
			fmt.Fprintf(&b, " %.4f %.6f", angles[k]-DatasetAngleOffsetDeg, ranges[k])
		}
		fmt.Fprintf(&b, " %f %f %f\n", o.Tx, o.Ty, th)
	}
	path := filepath.Join(t.TempDir(), "dataset.lsc")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
