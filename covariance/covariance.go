// Package covariance estimates pose uncertainty for ICP results and odometry motion, moves
// covariances between frames, and fuses two pose estimates.
package covariance

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-laserslam/geometry"
	"github.com/viamrobotics/viam-laserslam/icp"
)

const (
	// ICPScale is the empirical factor applied to the inverted ICP Hessian.
	ICPScale = 0.1
	// DefaultScanPeriod is the time between scans assumed by the motion models, in seconds.
	DefaultScanPeriod = 0.1

	diffStep = 1e-5
	// singular values below this fraction of the largest are treated as zero
	pinvTolerance = 1e-12

	minVelocity        = 0.02
	minAngularVelocity = 0.05

	velocityTransNoise = 1.0
	velocityRotNoise   = 5.0
	velocityMinVt      = 0.001
	velocityMinWt      = 0.01
)

// Diag returns a 3x3 diagonal matrix.
func Diag(a, b, c float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{a, 0, 0, 0, b, 0, 0, 0, c})
}

// Zero returns a 3x3 zero matrix.
func Zero() *mat.Dense {
	return mat.NewDense(3, 3, nil)
}

// Identity returns the 3x3 identity.
func Identity() *mat.Dense {
	return Diag(1, 1, 1)
}

// PseudoInverse inverts a through its singular value decomposition, zeroing the reciprocal of
// singular values that are negligible against the largest one. A zero or degenerate matrix
// therefore inverts to a finite matrix.
func PseudoInverse(a mat.Matrix) *mat.Dense {
	r, c := a.Dims()
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return mat.NewDense(c, r, nil)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	vals := svd.Values(nil)

	sinv := mat.NewDense(c, r, nil)
	if len(vals) > 0 && vals[0] > 0 {
		for i, s := range vals {
			if s > pinvTolerance*vals[0] {
				sinv.Set(i, i, 1/s)
			}
		}
	}
	var tmp, out mat.Dense
	tmp.Mul(&v, sinv)
	out.Mul(&tmp, u.T())
	return &out
}

// Rotation is the Jacobian of a pose with heading th in degrees, rotating translation and
// leaving the heading alone.
func Rotation(th float64) *mat.Dense {
	a := geometry.DegToRad(th)
	cs, sn := math.Cos(a), math.Sin(a)
	return mat.NewDense(3, 3, []float64{
		cs, -sn, 0,
		sn, cs, 0,
		0, 0, 1,
	})
}

// Rotate expresses cov, given in the frame of pose, in the parent frame. With reverse it does the
// opposite and expresses a parent frame covariance in the frame of pose.
func Rotate(pose geometry.Pose, cov mat.Matrix, reverse bool) *mat.Dense {
	j := Rotation(pose.Th())
	return sandwich(j, cov, reverse)
}

// sandwich returns J C Jt, or Jt C J when transposed.
func sandwich(j *mat.Dense, c mat.Matrix, transposed bool) *mat.Dense {
	var tmp, out mat.Dense
	if transposed {
		tmp.Mul(j.T(), c)
		out.Mul(&tmp, j)
		return &out
	}
	tmp.Mul(j, c)
	out.Mul(&tmp, j.T())
	return &out
}

// Accumulate transports prevCov from prev to cur and adds motionCov, which is expressed in the
// frame of prev.
func Accumulate(cur, prev geometry.Pose, prevCov, motionCov mat.Matrix) *mat.Dense {
	j1 := mat.NewDense(3, 3, []float64{
		1, 0, -(cur.Ty - prev.Ty),
		0, 1, cur.Tx - prev.Tx,
		0, 0, 1,
	})
	var out mat.Dense
	out.Add(sandwich(j1, prevCov, false), sandwich(Rotation(prev.Th()), motionCov, false))
	return &out
}

// ICPCovariance estimates the covariance of an ICP result at pose from the matched pairs m
// between cur and ref. Only pairs whose reference point has a normal contribute. The ratio is
// the eigenvalue ratio of the translational block, see EigenRatio.
func ICPCovariance(pose geometry.Pose, cur, ref []geometry.Point, m icp.Matches) (*mat.Dense, float64) {
	tx, ty := pose.Tx, pose.Ty
	th := geometry.DegToRad(pose.Th())

	var rows []float64
	for k := range m.Cur {
		c := cur[m.Cur[k]]
		r := ref[m.Ref[k]]
		if r.Type == geometry.Isolate {
			continue
		}
		d0 := pointToLine(c, r, tx, ty, th)
		rows = append(rows,
			(pointToLine(c, r, tx+diffStep, ty, th)-d0)/diffStep,
			(pointToLine(c, r, tx, ty+diffStep, th)-d0)/diffStep,
			(pointToLine(c, r, tx, ty, th+diffStep)-d0)/diffStep,
		)
	}
	if len(rows) == 0 {
		return Zero(), 0
	}
	jac := mat.NewDense(len(rows)/3, 3, rows)
	var hes mat.Dense
	hes.Mul(jac.T(), jac)
	cov := PseudoInverse(&hes)
	_, _, ratio := EigenRatio(cov)
	cov.Scale(ICPScale, cov)
	return cov, ratio
}

func pointToLine(c, r geometry.Point, tx, ty, th float64) float64 {
	cs, sn := math.Cos(th), math.Sin(th)
	x := cs*c.X - sn*c.Y + tx
	y := sn*c.X + cs*c.Y + ty
	return (x-r.X)*r.NX + (y-r.Y)*r.NY
}

// EigenRatio decomposes the translational 2x2 block of cov. Values are ascending, vectors are the
// matching columns, and ratio is largest over smallest, which grows as the estimate becomes
// degenerate along one direction. ratio is 0 when the block is zero and +Inf when only one
// direction is constrained.
func EigenRatio(cov mat.Matrix) ([]float64, *mat.Dense, float64) {
	block := mat.NewSymDense(2, []float64{
		cov.At(0, 0), (cov.At(0, 1) + cov.At(1, 0)) / 2,
		(cov.At(0, 1) + cov.At(1, 0)) / 2, cov.At(1, 1),
	})
	var es mat.EigenSym
	if ok := es.Factorize(block, true); !ok {
		return []float64{0, 0}, mat.NewDense(2, 2, nil), 0
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)
	switch {
	case vals[1] == 0:
		return vals, &vecs, 0
	case vals[0] <= 0:
		return vals, &vecs, math.Inf(1)
	}
	return vals, &vecs, vals[1] / vals[0]
}

// MotionCovarianceSimple models odometry noise over one scan period dt from the motion's speed
// and turn rate, with floors so a stationary robot still carries uncertainty.
func MotionCovarianceSimple(motion geometry.Pose, dt float64) *mat.Dense {
	vt := math.Hypot(motion.Tx, motion.Ty) / dt
	wt := math.Abs(geometry.DegToRad(motion.Th())) / dt
	vt = math.Max(vt, minVelocity)
	wt = math.Max(wt, minAngularVelocity)
	return Diag(0.001*vt*vt, 0.005*vt*vt, 0.05*wt*wt)
}

// MotionCovarianceVelocity applies a velocity motion model to propagate prevCov by one step of
// motion over dt, taken from a robot heading of th degrees. The result is in the parent frame.
// prevCov may be nil to start from zero.
func MotionCovarianceVelocity(th float64, motion geometry.Pose, dt float64, prevCov mat.Matrix) *mat.Dense {
	vt := math.Max(math.Hypot(motion.Tx, motion.Ty)/dt, velocityMinVt)
	wt := math.Max(math.Abs(geometry.DegToRad(motion.Th()))/dt, velocityMinWt)
	a := geometry.DegToRad(th)
	cs, sn := math.Cos(a), math.Sin(a)

	jxk := mat.NewDense(3, 3, []float64{
		1, 0, -vt * dt * sn,
		0, 1, vt * dt * cs,
		0, 0, 1,
	})
	juk := mat.NewDense(3, 2, []float64{
		dt * cs, 0,
		dt * sn, 0,
		0, dt,
	})
	uk := mat.NewDense(2, 2, []float64{
		velocityTransNoise * vt * vt, 0,
		0, velocityRotNoise * wt * wt,
	})

	out := sandwich(juk, uk, false)
	if prevCov != nil {
		out.Add(out, sandwich(jxk, prevCov, false))
	}
	return out
}
