package scanpoint

import (
	"math"

	"github.com/viamrobotics/viam-laserslam/geometry"
)

const (
	// DefaultMinNeighborDist is the closest a neighbor may be to be used for a normal.
	DefaultMinNeighborDist = 0.06
	// DefaultMaxNeighborDist is the farthest a neighbor may be to be used for a normal.
	DefaultMaxNeighborDist = 1.0
	// DefaultCornerAngle is the angle in degrees between side normals above which a point is a corner.
	DefaultCornerAngle = 45.0
)

// Classifier estimates a normal for every point from its left and right neighbors and labels the
// point Line, Corner or Isolate.
type Classifier struct {
	MinDist     float64
	MaxDist     float64
	CornerAngle float64
}

// NewClassifier returns a classifier with the default thresholds.
func NewClassifier() Classifier {
	return Classifier{
		MinDist:     DefaultMinNeighborDist,
		MaxDist:     DefaultMaxNeighborDist,
		CornerAngle: DefaultCornerAngle,
	}
}

// Classify sets Type and normal on each point in place.
func (c Classifier) Classify(points []geometry.Point) {
	cosThre := math.Cos(geometry.DegToRad(c.CornerAngle))
	for i := range points {
		lx, ly, okL := c.sideNormal(points, i, -1)
		rx, ry, okR := c.sideNormal(points, i, 1)
		// the right side walks the other way, so its normal is flipped to face the same side
		rx, ry = -rx, -ry

		p := &points[i]
		switch {
		case okL && okR:
			if math.Abs(lx*rx+ly*ry) >= cosThre {
				p.Type = geometry.Line
			} else {
				p.Type = geometry.Corner
			}
			nx, ny := lx+rx, ly+ry
			if l := math.Hypot(nx, ny); l > 0 {
				p.SetNormal(nx/l, ny/l)
			} else {
				p.SetNormal(lx, ly)
			}
		case okL:
			p.Type = geometry.Line
			p.SetNormal(lx, ly)
		case okR:
			p.Type = geometry.Line
			p.SetNormal(rx, ry)
		default:
			p.Type = geometry.Isolate
			p.SetNormal(-1, -1)
		}
	}
}

// sideNormal walks from idx in direction dir and uses the first neighbor in [MinDist, MaxDist]
// to build a normal. The walk stops once a neighbor is farther than MaxDist.
func (c Classifier) sideNormal(points []geometry.Point, idx, dir int) (float64, float64, bool) {
	cp := points[idx]
	for j := idx + dir; j >= 0 && j < len(points); j += dir {
		dx := points[j].X - cp.X
		dy := points[j].Y - cp.Y
		d := math.Hypot(dx, dy)
		if d >= c.MinDist && d <= c.MaxDist {
			return dy / d, -dx / d, true
		}
		if d > c.MaxDist {
			break
		}
	}
	return 0, 0, false
}
