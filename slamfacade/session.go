package slamfacade

import (
	"context"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/viam-laserslam/backend"
	"github.com/viamrobotics/viam-laserslam/config"
	"github.com/viamrobotics/viam-laserslam/covariance"
	"github.com/viamrobotics/viam-laserslam/frontend"
	"github.com/viamrobotics/viam-laserslam/geometry"
	"github.com/viamrobotics/viam-laserslam/graphsolver"
	"github.com/viamrobotics/viam-laserslam/icp"
	"github.com/viamrobotics/viam-laserslam/loopdetect"
	"github.com/viamrobotics/viam-laserslam/pointcloudmap"
	"github.com/viamrobotics/viam-laserslam/posegraph"
	"github.com/viamrobotics/viam-laserslam/scanmatch"
	"github.com/viamrobotics/viam-laserslam/scanpoint"
)

// Session is one mapping run. Implementations are not safe for concurrent use.
type Session interface {
	Process(ctx context.Context, scan geometry.Scan) error
	FinalOptimization(ctx context.Context) error
	Count() int
	Poses() []geometry.Pose
	LastPose() geometry.Pose
	GlobalMap() []geometry.Point
	Arcs() []posegraph.Arc
	LoopMatches() []loopdetect.LoopMatch
	Diagnostics() frontend.Diagnostics
}

// NewSession builds the session selected by algoCfg.
func NewSession(algoCfg config.AlgoConfig, logger logging.Logger) (Session, error) {
	var m pointcloudmap.Map
	var submaps *pointcloudmap.Submaps
	switch algoCfg.MapStrategy {
	case config.MapAll:
		m = pointcloudmap.NewAll(algoCfg.MapCapacity)
	case config.MapGrid:
		m = pointcloudmap.NewGrid(algoCfg.MapCapacity)
	case config.MapSubmap:
		submaps = pointcloudmap.NewSubmaps(algoCfg.MapCapacity)
		submaps.Travel = algoCfg.SubmapTravel
		m = submaps
	default:
		return nil, errors.Errorf("unknown map strategy %q", algoCfg.MapStrategy)
	}

	if algoCfg.OdometryOnly {
		return frontend.NewOdometryMapper(m, logger.Sublogger("odometry")), nil
	}

	est, err := newEstimator(algoCfg)
	if err != nil {
		return nil, err
	}

	var ref scanmatch.RefScanMaker
	switch algoCfg.RefScan {
	case config.RefPrevious:
		ref = scanmatch.PreviousScanRef{Map: m}
	case config.RefLocalMap:
		ref = scanmatch.LocalMapRef{Map: m}
	default:
		return nil, errors.Errorf("unknown reference scan %q", algoCfg.RefScan)
	}

	fuser := covariance.NewFuser()
	fuser.MotionModel = algoCfg.MotionModel
	matcher := scanmatch.New(est, fuser, ref, m, logger.Sublogger("scanmatch"))
	matcher.ScoreThreshold = algoCfg.ScoreThreshold
	matcher.UsedThreshold = algoCfg.UsedPointsThreshold
	matcher.DegeneracyCheck = algoCfg.DegeneracyCheck
	if algoCfg.Resample {
		r := scanpoint.NewResampler()
		matcher.Resampler = &r
	}
	if algoCfg.Classify {
		c := scanpoint.NewClassifier()
		matcher.Classifier = &c
	}

	g := posegraph.New(algoCfg.NodeCapacity, algoCfg.ArcCapacity)

	var detector loopdetect.Detector = loopdetect.None{}
	switch algoCfg.LoopDetector {
	case config.LoopNone:
	case config.LoopSubmap:
		if submaps == nil {
			return nil, errors.Errorf("loop detector %q needs map strategy %q", config.LoopSubmap, config.MapSubmap)
		}
		d := loopdetect.NewSubmaps(submaps, g, logger.Sublogger("loopdetect"))
		d.Radius = algoCfg.LoopRadius
		d.ScoreThreshold = algoCfg.LoopScoreThreshold
		d.UsedThreshold = algoCfg.UsedPointsThreshold
		detector = d
	default:
		return nil, errors.Errorf("unknown loop detector %q", algoCfg.LoopDetector)
	}

	be := backend.New(g, m, graphsolver.New(), logger.Sublogger("backend"))
	be.Iterations = algoCfg.SolverIterations

	f := frontend.New(matcher, m, g, detector, be, logger)
	f.KeyframeSkip = algoCfg.KeyframeSkip
	return f, nil
}

func newEstimator(algoCfg config.AlgoConfig) (*icp.Estimator, error) {
	var assoc icp.Associator
	switch algoCfg.Associator {
	case config.AssocLinear:
		assoc = icp.NewLinearAssociator()
	case config.AssocGrid:
		assoc = icp.NewGridAssociator()
	default:
		return nil, errors.Errorf("unknown associator %q", algoCfg.Associator)
	}

	var cost icp.CostFunction
	switch algoCfg.Cost {
	case config.CostEuclidean:
		cost = icp.NewEuclideanCost()
	case config.CostPointToLine:
		cost = icp.NewPointToLineCost()
	default:
		return nil, errors.Errorf("unknown cost function %q", algoCfg.Cost)
	}

	var opt icp.PoseOptimizer
	switch algoCfg.Optimizer {
	case config.OptGradient:
		opt = icp.NewGradientDescent(cost)
	case config.OptLineSearch:
		opt = icp.NewLineSearch(cost)
	default:
		return nil, errors.Errorf("unknown optimizer %q", algoCfg.Optimizer)
	}
	return icp.NewEstimator(assoc, opt), nil
}
