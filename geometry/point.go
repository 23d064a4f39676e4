// Package geometry contains the 2D point, pose and scan primitives shared by the SLAM core.
package geometry

import "math"

// PointType is the local shape classification of a scan point.
type PointType int

const (
	// Unknown is the type of a point that has not been classified.
	Unknown PointType = iota
	// Line marks a point whose neighbors lie on a straight segment.
	Line
	// Corner marks a point where the left and right segments meet at an angle.
	Corner
	// Isolate marks a point with no usable neighbor; it has no normal.
	Isolate
)

func (t PointType) String() string {
	switch t {
	case Line:
		return "line"
	case Corner:
		return "corner"
	case Isolate:
		return "isolate"
	case Unknown:
	}
	return "unknown"
}

// Point is a single laser point. Coordinates are in the frame of whoever holds it:
// sensor frame inside a Scan, map frame inside a map.
type Point struct {
	X, Y float64
	// ScanID is the logical id of the scan that produced the point.
	ScanID int
	// ATD is the accumulated travel distance at capture time.
	ATD    float64
	NX, NY float64
	Type   PointType
}

// NewPoint returns an unclassified point.
func NewPoint(scanID int, x, y float64) Point {
	return Point{X: x, Y: y, ScanID: scanID}
}

// SetNormal sets the unit normal of the point.
func (p *Point) SetNormal(nx, ny float64) {
	p.NX = nx
	p.NY = ny
}

// HasNormal reports whether the point carries a usable normal.
func (p Point) HasNormal() bool {
	return p.Type == Line || p.Type == Corner
}

// Dist2 returns the squared euclidean distance between p and q.
func (p Point) Dist2(q Point) float64 {
	dx := p.X - q.X
	dy := p.Y - q.Y
	return dx*dx + dy*dy
}

// Dist returns the euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Sqrt(p.Dist2(q))
}
