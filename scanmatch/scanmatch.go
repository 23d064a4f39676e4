// Package scanmatch registers each incoming scan against a reference built from the map, falls
// back to odometry when registration fails, and grows the map with the result.
package scanmatch

import (
	"math"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-laserslam/covariance"
	"github.com/viamrobotics/viam-laserslam/geometry"
	"github.com/viamrobotics/viam-laserslam/icp"
	"github.com/viamrobotics/viam-laserslam/pointcloudmap"
	"github.com/viamrobotics/viam-laserslam/scanpoint"
)

const (
	// DefaultScoreThreshold is the highest ICP score accepted as a match.
	DefaultScoreThreshold = 1.0
	// DefaultUsedThreshold is the fewest matched points accepted as a match.
	DefaultUsedThreshold = 50
	// MaxDegeneracyRatio caps the reported eigenvalue ratio. JSON cannot encode +Inf.
	MaxDegeneracyRatio = 1e12
)

// Diagnostics describes how one scan was registered. DegeneracyRatio is the eigenvalue ratio of
// the ICP covariance, large when the match is unconstrained along one direction. It is zero
// unless the match was fused.
type Diagnostics struct {
	ScanID          int           `json:"scan_id"`
	Score           float64       `json:"score"`
	UsedNum         int           `json:"used_num"`
	PnRate          float64       `json:"pn_rate"`
	DegeneracyRatio float64       `json:"degeneracy_ratio"`
	Success         bool          `json:"success"`
	X               float64       `json:"x"`
	Y               float64       `json:"y"`
	Th              float64       `json:"th"`
	Cov             [3][3]float64 `json:"cov"`
}

// Matcher owns the per scan registration state.
type Matcher struct {
	// Resampler and Classifier are optional preprocessing steps.
	Resampler  *scanpoint.Resampler
	Classifier *scanpoint.Classifier

	Estimator *icp.Estimator
	Fuser     *covariance.Fuser
	RefMaker  RefScanMaker
	Map       pointcloudmap.Map

	ScoreThreshold  float64
	UsedThreshold   int
	DegeneracyCheck bool

	logger   logging.Logger
	cnt      int
	initPose geometry.Pose
	prevScan geometry.Scan
	fusedCov *mat.Dense
	totalCov *mat.Dense
	atd      float64
	diag     Diagnostics
}

// New returns a matcher with default thresholds and no preprocessing.
func New(est *icp.Estimator, fuser *covariance.Fuser, ref RefScanMaker, m pointcloudmap.Map, logger logging.Logger) *Matcher {
	s := &Matcher{
		Estimator:      est,
		Fuser:          fuser,
		RefMaker:       ref,
		Map:            m,
		ScoreThreshold: DefaultScoreThreshold,
		UsedThreshold:  DefaultUsedThreshold,
		logger:         logger,
	}
	s.Reset()
	return s
}

// Reset forgets every processed scan. The next scan seeds the map at the initial pose.
func (s *Matcher) Reset() {
	s.cnt = -1
	s.prevScan = geometry.Scan{}
	s.fusedCov = covariance.Zero()
	s.totalCov = covariance.Zero()
	s.atd = 0
	s.diag = Diagnostics{}
}

// SetInitPose sets the pose the first scan is placed at.
func (s *Matcher) SetInitPose(p geometry.Pose) {
	s.initPose = p
}

// FusedCov is the covariance of the last pose estimate in the map frame.
func (s *Matcher) FusedCov() *mat.Dense {
	return s.fusedCov
}

// TotalCov is the covariance accumulated along the trajectory.
func (s *Matcher) TotalCov() *mat.Dense {
	return s.totalCov
}

// ATD is the travel distance of the estimated trajectory.
func (s *Matcher) ATD() float64 {
	return s.atd
}

// Diagnostics describes the last matched scan.
func (s *Matcher) Diagnostics() Diagnostics {
	return s.diag
}

// MatchScan estimates the pose of scan and adds it to the map. It reports whether ICP succeeded;
// on failure the odometry prediction is used instead. A returned error means points were
// dropped from the map and leaves the matcher usable.
func (s *Matcher) MatchScan(scan geometry.Scan) (bool, error) {
	s.cnt++
	scan = s.preprocess(scan)

	if s.cnt == 0 {
		err := s.growMap(scan, s.initPose)
		s.prevScan = scan
		s.diag = Diagnostics{ScanID: s.cnt, Success: true, X: s.initPose.Tx, Y: s.initPose.Ty, Th: s.initPose.Th()}
		return true, err
	}

	odoMotion := geometry.RelativePose(scan.Pose, s.prevScan.Pose)
	lastPose := s.Map.LastPose()
	predPose := geometry.GlobalPose(odoMotion, lastPose)

	ref := s.RefMaker.MakeRefScan()
	res := s.Estimator.Estimate(scan.Points, ref, predPose)
	success := res.Score <= s.ScoreThreshold && res.UsedNum >= s.UsedThreshold
	estPose := res.Pose
	var cov *mat.Dense
	var ratio float64

	switch {
	case s.DegeneracyCheck && success:
		s.Fuser.SetReference(ref)
		fused, fusedCov, icpCov := s.Fuser.FusePose(scan.Points, estPose, lastPose, odoMotion)
		estPose = fused
		s.fusedCov = fusedCov
		local := covariance.Rotate(lastPose, fusedCov, true)
		s.totalCov = covariance.Accumulate(lastPose, estPose, s.totalCov, local)
		cov = icpCov
		ratio = math.Min(s.Fuser.EigenRatio(), MaxDegeneracyRatio)
	case success:
		s.fusedCov = s.Fuser.OdometryCovariance(lastPose, odoMotion)
		cov = s.fusedCov
	default:
		estPose = predPose
		s.fusedCov = s.Fuser.OdometryCovariance(lastPose, odoMotion)
		cov = s.fusedCov
		s.logger.Debugw("scan match failed, using odometry",
			"scan", s.cnt, "score", res.Score, "used", res.UsedNum, "pn_rate", res.PnRate)
	}

	err := s.growMap(scan, estPose)
	s.prevScan = scan
	s.atd += geometry.RelativePose(estPose, lastPose).Dist(geometry.Pose{})

	s.diag = Diagnostics{
		ScanID:          s.cnt,
		Score:           res.Score,
		UsedNum:         res.UsedNum,
		PnRate:          res.PnRate,
		DegeneracyRatio: ratio,
		Success:         success,
		X:               estPose.Tx,
		Y:               estPose.Ty,
		Th:              estPose.Th(),
		Cov:             toArray(cov),
	}
	return success, err
}

func (s *Matcher) preprocess(scan geometry.Scan) geometry.Scan {
	if s.Resampler != nil {
		scan.Points = s.Resampler.Resample(scan.Points)
	} else {
		scan = scan.Clone()
	}
	if s.Classifier != nil {
		s.Classifier.Classify(scan.Points)
	}
	return scan
}

// growMap adds the scan at pose to the map. Isolated points are left out.
func (s *Matcher) growMap(scan geometry.Scan, pose geometry.Pose) error {
	pts := make([]geometry.Point, 0, len(scan.Points))
	for _, p := range scan.Points {
		if p.Type == geometry.Isolate {
			continue
		}
		g := pose.GlobalPoint(p)
		g.ScanID = s.cnt
		pts = append(pts, g)
	}

	s.Map.AddPose(pose)
	err := s.Map.AddPoints(pts)
	s.Map.SetLastPose(pose)
	s.Map.SetLastScan(scan)
	s.Map.MakeLocalMap()
	if err != nil {
		return errors.Wrapf(err, "scan %d", s.cnt)
	}
	return nil
}

func toArray(m *mat.Dense) [3][3]float64 {
	var out [3][3]float64
	if m == nil {
		return out
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = m.At(r, c)
		}
	}
	return out
}
