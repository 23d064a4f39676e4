package geometry

import "math"

// Pose is a rigid 2D transform. The heading is kept in degrees in [-180, 180) and its rotation
// matrix is recomputed on every mutation, so the two never disagree.
type Pose struct {
	Tx, Ty float64
	th     float64
	cos    float64
	sin    float64
	cached bool
}

// NewPose returns a pose with translation (tx, ty) and heading th in degrees.
func NewPose(tx, ty, th float64) Pose {
	p := Pose{Tx: tx, Ty: ty}
	p.SetAngle(th)
	return p
}

// Th returns the heading in degrees.
func (p Pose) Th() float64 {
	return p.th
}

// SetAngle sets the heading, normalizing it, and refreshes the rotation matrix.
func (p *Pose) SetAngle(th float64) {
	p.th = NormalizeDeg(th)
	a := DegToRad(p.th)
	p.cos = math.Cos(a)
	p.sin = math.Sin(a)
	p.cached = true
}

// SetVal sets translation and heading together.
func (p *Pose) SetVal(tx, ty, th float64) {
	p.Tx = tx
	p.Ty = ty
	p.SetAngle(th)
}

func (p Pose) cosSin() (float64, float64) {
	if p.cached {
		return p.cos, p.sin
	}
	// zero value pose
	a := DegToRad(p.th)
	return math.Cos(a), math.Sin(a)
}

// Rmat returns the rotation matrix of the heading.
func (p Pose) Rmat() [2][2]float64 {
	c, s := p.cosSin()
	return [2][2]float64{{c, -s}, {s, c}}
}

// GlobalPoint maps a point from the frame of p into the parent frame. The normal is rotated too.
func (p Pose) GlobalPoint(q Point) Point {
	c, s := p.cosSin()
	out := q
	out.X = c*q.X - s*q.Y + p.Tx
	out.Y = s*q.X + c*q.Y + p.Ty
	out.NX = c*q.NX - s*q.NY
	out.NY = s*q.NX + c*q.NY
	return out
}

// RelativePoint maps a point from the parent frame into the frame of p. The normal is rotated too.
func (p Pose) RelativePoint(q Point) Point {
	c, s := p.cosSin()
	dx := q.X - p.Tx
	dy := q.Y - p.Ty
	out := q
	out.X = c*dx + s*dy
	out.Y = -s*dx + c*dy
	out.NX = c*q.NX + s*q.NY
	out.NY = -s*q.NX + c*q.NY
	return out
}

// Dist returns the translational distance between two poses.
func (p Pose) Dist(q Pose) float64 {
	return math.Hypot(p.Tx-q.Tx, p.Ty-q.Ty)
}

// RelativePose returns next expressed in the frame of base. It is the inverse of GlobalPose.
func RelativePose(next, base Pose) Pose {
	c, s := base.cosSin()
	dx := next.Tx - base.Tx
	dy := next.Ty - base.Ty
	return NewPose(c*dx+s*dy, -s*dx+c*dy, next.th-base.th)
}

// GlobalPose composes rel onto base.
func GlobalPose(rel, base Pose) Pose {
	c, s := base.cosSin()
	return NewPose(c*rel.Tx-s*rel.Ty+base.Tx, s*rel.Tx+c*rel.Ty+base.Ty, base.th+rel.th)
}

// AddDeg adds two headings and normalizes the result.
func AddDeg(a, b float64) float64 {
	return NormalizeDeg(a + b)
}

// NormalizeDeg wraps an angle into [-180, 180).
func NormalizeDeg(th float64) float64 {
	if th >= -180 && th < 180 {
		return th
	}
	th = math.Mod(th+180, 360)
	if th < 0 {
		th += 360
	}
	return th - 180
}

// NormalizeRad wraps an angle into [-pi, pi).
func NormalizeRad(a float64) float64 {
	return DegToRad(NormalizeDeg(RadToDeg(a)))
}

// DegToRad converts degrees to radians.
func DegToRad(d float64) float64 {
	return d * math.Pi / 180
}

// RadToDeg converts radians to degrees.
func RadToDeg(r float64) float64 {
	return r * 180 / math.Pi
}
