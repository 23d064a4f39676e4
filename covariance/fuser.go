package covariance

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-laserslam/geometry"
	"github.com/viamrobotics/viam-laserslam/icp"
)

// Motion models for the odometry covariance.
const (
	MotionSimple   = "simple"
	MotionVelocity = "velocity"
)

// Fuser combines an ICP estimate with an odometry prediction.
type Fuser struct {
	// Associator supplies the matches the ICP covariance is computed from. It must hold the
	// reference set the estimate was made against.
	Associator icp.Associator
	// ScanPeriod is the time between scans used by the odometry model.
	ScanPeriod float64
	// MotionModel is MotionSimple or MotionVelocity.
	MotionModel string
	ratio       float64
}

// NewFuser returns a fuser that re-associates with a grid associator.
func NewFuser() *Fuser {
	return &Fuser{Associator: icp.NewGridAssociator(), ScanPeriod: DefaultScanPeriod, MotionModel: MotionSimple}
}

// SetReference sets the reference points used to evaluate ICP covariance.
func (f *Fuser) SetReference(ref []geometry.Point) {
	f.Associator.SetReference(ref)
}

// FusePose fuses the ICP estimate estPose of scan cur with the prediction lastPose composed with
// odoMotion. It returns the fused pose, its covariance, and the ICP covariance on its own.
func (f *Fuser) FusePose(cur []geometry.Point, estPose, lastPose, odoMotion geometry.Pose) (geometry.Pose, *mat.Dense, *mat.Dense) {
	m := f.Associator.Associate(cur, estPose)
	ecov, ratio := ICPCovariance(estPose, cur, f.Associator.Reference(), m)
	f.ratio = ratio

	predPose := geometry.GlobalPose(odoMotion, lastPose)
	var mcov *mat.Dense
	if f.MotionModel == MotionVelocity {
		mcov = MotionCovarianceVelocity(lastPose.Th(), odoMotion, f.ScanPeriod, nil)
	} else {
		mcov = Rotate(estPose, MotionCovarianceSimple(odoMotion, f.ScanPeriod), false)
	}

	mu1 := poseVec(estPose)
	mu2 := poseVec(predPose)
	mu, cov := Fuse(mu1, ecov, mu2, mcov)
	fused := geometry.NewPose(mu.AtVec(0), mu.AtVec(1), geometry.RadToDeg(mu.AtVec(2)))
	return fused, cov, ecov
}

// OdometryCovariance is the covariance of a pure odometry step from lastPose, in the parent frame.
func (f *Fuser) OdometryCovariance(lastPose, odoMotion geometry.Pose) *mat.Dense {
	if f.MotionModel == MotionVelocity {
		return MotionCovarianceVelocity(lastPose.Th(), odoMotion, f.ScanPeriod, nil)
	}
	return Rotate(lastPose, MotionCovarianceSimple(odoMotion, f.ScanPeriod), false)
}

// EigenRatio is the eigenvalue ratio of the ICP covariance from the last FusePose. Large values
// mean the match is poorly constrained along one direction.
func (f *Fuser) EigenRatio() float64 {
	return f.ratio
}

// Fuse combines two Gaussian estimates of (x, y, heading in radians) in information form. mu1's
// heading is moved onto mu2's branch before combining and the result's heading is wrapped to
// [-pi, pi).
func Fuse(mu1 *mat.VecDense, cv1 mat.Matrix, mu2 *mat.VecDense, cv2 mat.Matrix) (*mat.VecDense, *mat.Dense) {
	ic1 := PseudoInverse(cv1)
	ic2 := PseudoInverse(cv2)
	var info mat.Dense
	info.Add(ic1, ic2)
	cov := PseudoInverse(&info)

	m1 := mat.VecDenseCopyOf(mu1)
	da := mu2.AtVec(2) - m1.AtVec(2)
	if da > math.Pi {
		m1.SetVec(2, m1.AtVec(2)+2*math.Pi)
	} else if da < -math.Pi {
		m1.SetVec(2, m1.AtVec(2)-2*math.Pi)
	}

	var n1, n2, sum, mu mat.VecDense
	n1.MulVec(ic1, m1)
	n2.MulVec(ic2, mu2)
	sum.AddVec(&n1, &n2)
	mu.MulVec(cov, &sum)
	mu.SetVec(2, geometry.NormalizeRad(mu.AtVec(2)))
	return &mu, cov
}

func poseVec(p geometry.Pose) *mat.VecDense {
	return mat.NewVecDense(3, []float64{p.Tx, p.Ty, geometry.DegToRad(p.Th())})
}
