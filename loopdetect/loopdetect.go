// Package loopdetect finds places the robot has been before and ties them into the pose graph.
package loopdetect

import (
	"math"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-laserslam/covariance"
	"github.com/viamrobotics/viam-laserslam/geometry"
	"github.com/viamrobotics/viam-laserslam/icp"
	"github.com/viamrobotics/viam-laserslam/pointcloudmap"
	"github.com/viamrobotics/viam-laserslam/posegraph"
)

const (
	// DefaultRadius is how close in meters a prior pose must be to the current one.
	DefaultRadius = 4.0
	// DefaultATDThreshold is the travel distance in meters to the current pose under which the
	// trajectory is too recent to close a loop with.
	DefaultATDThreshold = 10.0
	// DefaultScoreThreshold is the highest ICP score accepted as a revisit.
	DefaultScoreThreshold = 0.2
	// DefaultUsedThreshold is the fewest matched points a candidate needs.
	DefaultUsedThreshold = 50

	searchRangeT = 1.0
	searchStepT  = 0.2
	searchRangeA = 45.0
	searchStepA  = 2.0

	prefilterRatio  = 0.9
	prefilterPnRate = 0.8
	verifyPnRate    = 0.9
)

// LoopInfo describes one detected revisit. Pose is where the current scan sits in the map frame,
// Cov its covariance in the map frame.
type LoopInfo struct {
	Arced bool
	CurID int
	RefID int
	Pose  geometry.Pose
	Score float64
	Cov   *mat.Dense
}

// LoopMatch records an accepted loop for inspection.
type LoopMatch struct {
	CurID     int              `json:"cur_id"`
	RefID     int              `json:"ref_id"`
	X         float64          `json:"x"`
	Y         float64          `json:"y"`
	Th        float64          `json:"th"`
	Score     float64          `json:"score"`
	CurPoints []geometry.Point `json:"-"`
	RefPoints []geometry.Point `json:"-"`
}

// Detector looks for a loop closing at the current scan. cnt is the graph node id of the scan.
// A detector adds the loop arc itself and reports whether one was found.
type Detector interface {
	DetectLoop(curScan geometry.Scan, curPose geometry.Pose, cnt int) (LoopInfo, bool)
	LoopMatches() []LoopMatch
}

// None never detects a loop.
type None struct{}

// DetectLoop implements Detector.
func (None) DetectLoop(geometry.Scan, geometry.Pose, int) (LoopInfo, bool) {
	return LoopInfo{}, false
}

// LoopMatches implements Detector.
func (None) LoopMatches() []LoopMatch {
	return nil
}

// Submaps matches the current scan against closed submaps near the current pose. Once a loop
// is closed, detection pauses until another ATDThreshold meters have been traveled, so one
// revisit yields one loop arc.
type Submaps struct {
	Radius         float64
	ATDThreshold   float64
	ScoreThreshold float64
	UsedThreshold  int

	Map   *pointcloudmap.Submaps
	Graph *posegraph.Graph

	// Associator and Cost rank search candidates. Estimator verifies them. None of them are shared
	// with the scan matcher.
	Associator icp.Associator
	Cost       icp.CostFunction
	Estimator  *icp.Estimator

	logger   logging.Logger
	matches  []LoopMatch
	closed   bool
	closedAt float64
}

// NewSubmaps returns a submap loop detector with default parameters.
func NewSubmaps(m *pointcloudmap.Submaps, g *posegraph.Graph, logger logging.Logger) *Submaps {
	cost := icp.NewPointToLineCost()
	cost.SetEvLimit(icp.DefaultEvLimit)
	return &Submaps{
		Radius:         DefaultRadius,
		ATDThreshold:   DefaultATDThreshold,
		ScoreThreshold: DefaultScoreThreshold,
		UsedThreshold:  DefaultUsedThreshold,
		Map:            m,
		Graph:          g,
		Associator:     icp.NewGridAssociator(),
		Cost:           cost,
		Estimator:      icp.NewEstimator(icp.NewGridAssociator(), icp.NewLineSearch(icp.NewPointToLineCost())),
		logger:         logger,
	}
}

// LoopMatches implements Detector.
func (d *Submaps) LoopMatches() []LoopMatch {
	return d.matches
}

// DetectLoop implements Detector.
func (d *Submaps) DetectLoop(curScan geometry.Scan, curPose geometry.Pose, cnt int) (LoopInfo, bool) {
	if d.closed && d.Map.ATD()-d.closedAt < d.ATDThreshold {
		return LoopInfo{}, false
	}
	refIdx, poseIdx, ok := d.closestPriorPose(curPose)
	if !ok {
		return LoopInfo{}, false
	}

	poses := d.Map.Poses()
	ref := d.Map.Submaps()[refIdx].Points
	revisit, score, ok := d.estimateRevisitPose(curScan.Points, ref, poses[poseIdx])
	if !ok {
		return LoopInfo{}, false
	}

	d.Associator.SetReference(ref)
	m := d.Associator.Associate(curScan.Points, revisit)
	cov, ratio := covariance.ICPCovariance(revisit, curScan.Points, ref, m)

	info := LoopInfo{CurID: cnt, RefID: poseIdx, Pose: revisit, Score: score, Cov: cov}
	added, err := d.MakeLoopArc(&info)
	if err != nil {
		d.logger.Warnw("dropping loop arc", "cur", cnt, "ref", poseIdx, "error", err)
		return info, false
	}
	if !added {
		d.logger.Debugw("loop already closed", "cur", cnt, "ref", poseIdx)
		return info, false
	}
	d.logger.Infow("loop detected",
		"cur", info.CurID, "ref", info.RefID, "score", score, "eigen_ratio", ratio,
		"x", revisit.Tx, "y", revisit.Ty, "th", revisit.Th())

	d.matches = append(d.matches, LoopMatch{
		CurID:     info.CurID,
		RefID:     info.RefID,
		X:         revisit.Tx,
		Y:         revisit.Ty,
		Th:        revisit.Th(),
		Score:     score,
		CurPoints: curScan.Transformed(revisit),
		RefPoints: append([]geometry.Point(nil), ref...),
	})
	d.closed = true
	d.closedAt = d.Map.ATD()
	return info, true
}

// closestPriorPose walks the closed submaps oldest first and returns the submap and pose index
// of the trajectory pose nearest curPose. The walk stops once the remaining travel to the
// current pose drops under ATDThreshold.
func (d *Submaps) closestPriorPose(curPose geometry.Pose) (int, int, bool) {
	atd := d.Map.ATD()
	poses := d.Map.Poses()
	submaps := d.Map.Submaps()

	atdR := 0.0
	prev := geometry.Pose{}
	dmin := math.Inf(1)
	imin, jmin := -1, -1
walk:
	for i := 0; i < len(submaps)-1; i++ {
		s := submaps[i]
		for j := s.Start; j <= s.End && j < len(poses); j++ {
			p := poses[j]
			atdR += math.Hypot(p.Tx-prev.Tx, p.Ty-prev.Ty)
			if atd-atdR < d.ATDThreshold {
				break walk
			}
			prev = p
			dd := math.Hypot(curPose.Tx-p.Tx, curPose.Ty-p.Ty)
			if dd < dmin {
				dmin, imin, jmin = dd, i, j
			}
		}
	}
	if imin < 0 || dmin > d.Radius {
		return 0, 0, false
	}
	return imin, jmin, true
}

// estimateRevisitPose searches a window around center for poses where cur lines up with ref,
// then runs ICP from every surviving candidate and keeps the best verified result.
func (d *Submaps) estimateRevisitPose(
	cur, ref []geometry.Point,
	center geometry.Pose,
) (geometry.Pose, float64, bool) {
	d.Associator.SetReference(ref)
	nt := int(math.Round(searchRangeT / searchStepT))
	na := int(math.Round(searchRangeA / searchStepA))

	var candidates []geometry.Pose
	for iy := -nt; iy <= nt; iy++ {
		y := center.Ty + float64(iy)*searchStepT
		for ix := -nt; ix <= nt; ix++ {
			x := center.Tx + float64(ix)*searchStepT
			for ia := -na; ia <= na; ia++ {
				pose := geometry.NewPose(x, y, geometry.AddDeg(center.Th(), float64(ia)*searchStepA))
				m := d.Associator.Associate(cur, pose)
				if m.Len() < d.UsedThreshold || m.Ratio < prefilterRatio {
					continue
				}
				d.Cost.SetPairs(cur, ref, m)
				d.Cost.Cost(x, y, pose.Th())
				if d.Cost.PnRate() > prefilterPnRate {
					candidates = append(candidates, pose)
				}
			}
		}
	}
	d.logger.Debugw("loop search", "center_x", center.Tx, "center_y", center.Ty, "candidates", len(candidates))
	if len(candidates) == 0 {
		return geometry.Pose{}, 0, false
	}

	d.Estimator.SetReference(ref)
	best := geometry.Pose{}
	smin := math.Inf(1)
	for _, c := range candidates {
		res := d.Estimator.EstimateAgainstReference(cur, c)
		if res.Score < smin && res.PnRate >= verifyPnRate && res.UsedNum >= d.UsedThreshold {
			smin = res.Score
			best = res.Pose
		}
	}
	if smin > d.ScoreThreshold {
		return geometry.Pose{}, smin, false
	}
	return best, smin, true
}

// MakeLoopArc adds the arc from the revisited node to the current node and reports whether it
// did. An info that already produced an arc, or a node pair already joined, adds nothing.
func (d *Submaps) MakeLoopArc(info *LoopInfo) (bool, error) {
	if info.Arced {
		return false, nil
	}
	if _, ok := d.Graph.FindArc(info.RefID, info.CurID); ok {
		info.Arced = true
		return false, nil
	}
	poses := d.Map.Poses()
	if info.RefID < 0 || info.RefID >= len(poses) {
		return false, errors.Errorf("loop reference %d outside trajectory of %d poses", info.RefID, len(poses))
	}
	src := poses[info.RefID]
	rel := geometry.RelativePose(info.Pose, src)
	cov := covariance.Rotate(src, info.Cov, true)
	if _, err := d.Graph.AddArc(d.Graph.MakeArc(info.RefID, info.CurID, rel, cov)); err != nil {
		return false, err
	}
	info.Arced = true
	return true, nil
}
