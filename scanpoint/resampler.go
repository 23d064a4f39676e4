// Package scanpoint normalizes point spacing along a scan and classifies points by local shape.
package scanpoint

import (
	"math"

	"github.com/viamrobotics/viam-laserslam/geometry"
)

const (
	// DefaultMinSpacing is the target spacing between consecutive resampled points.
	DefaultMinSpacing = 0.05
	// DefaultMaxSpacing is the gap above which points are passed through without interpolation.
	DefaultMaxSpacing = 0.25
)

// Resampler walks a scan in order and emits points spaced MinSpacing apart along the scan
// polyline. Gaps larger than MaxSpacing are treated as discontinuities and not bridged.
type Resampler struct {
	MinSpacing float64
	MaxSpacing float64
}

// NewResampler returns a resampler with the default spacings.
func NewResampler() Resampler {
	return Resampler{MinSpacing: DefaultMinSpacing, MaxSpacing: DefaultMaxSpacing}
}

// Resample returns a new point sequence. The input slice is not modified.
func (r Resampler) Resample(points []geometry.Point) []geometry.Point {
	if len(points) == 0 {
		return nil
	}
	out := make([]geometry.Point, 0, len(points))
	first := geometry.NewPoint(points[0].ScanID, points[0].X, points[0].Y)
	first.ATD = points[0].ATD
	out = append(out, first)

	prev := first
	// dist is the path length walked since the last emitted point.
	dist := 0.0
	for i := 1; i < len(points); i++ {
		cur := points[i]
		dx := cur.X - prev.X
		dy := cur.Y - prev.Y
		l := math.Hypot(dx, dy)

		switch {
		case dist+l < r.MinSpacing:
			dist += l
			prev = cur
		case dist+l >= r.MaxSpacing:
			np := geometry.NewPoint(cur.ScanID, cur.X, cur.Y)
			np.ATD = cur.ATD
			out = append(out, np)
			prev = np
			dist = 0
		default:
			ratio := (r.MinSpacing - dist) / l
			np := geometry.NewPoint(cur.ScanID, prev.X+ratio*dx, prev.Y+ratio*dy)
			np.ATD = cur.ATD
			out = append(out, np)
			prev = np
			dist = 0
			// the rest of the segment up to cur is walked again from the new point
			i--
		}
	}
	return out
}
