// Package frontend drives the per scan SLAM cycle: registration, graph growth, keyframe map
// rebuilds and loop closure.
package frontend

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/logging"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-laserslam/backend"
	"github.com/viamrobotics/viam-laserslam/covariance"
	"github.com/viamrobotics/viam-laserslam/geometry"
	"github.com/viamrobotics/viam-laserslam/loopdetect"
	"github.com/viamrobotics/viam-laserslam/pointcloudmap"
	"github.com/viamrobotics/viam-laserslam/posegraph"
	"github.com/viamrobotics/viam-laserslam/scanmatch"
)

const (
	// DefaultKeyframeSkip is the number of scans between keyframes.
	DefaultKeyframeSkip = 10

	firstKeyframeNThre = 1
	keyframeNThre      = 5
)

// Diagnostics summarizes the state of a mapping session after its last scan.
type Diagnostics struct {
	Count     int                   `json:"count"`
	LoopArcs  int                   `json:"loop_arcs"`
	MapPoints int                   `json:"map_points"`
	ATD       float64               `json:"atd"`
	Scan      scanmatch.Diagnostics `json:"scan"`
}

// FrontEnd owns the map, the pose graph and the components that update them. It is not safe for
// concurrent use.
type FrontEnd struct {
	Matcher      *scanmatch.Matcher
	Map          pointcloudmap.Map
	Graph        *posegraph.Graph
	Detector     loopdetect.Detector
	BackEnd      *backend.BackEnd
	KeyframeSkip int

	logger   logging.Logger
	cnt      int
	loopArcs int
}

// New returns a front end over the given components.
func New(
	matcher *scanmatch.Matcher,
	m pointcloudmap.Map,
	g *posegraph.Graph,
	detector loopdetect.Detector,
	be *backend.BackEnd,
	logger logging.Logger,
) *FrontEnd {
	if detector == nil {
		detector = loopdetect.None{}
	}
	return &FrontEnd{
		Matcher:      matcher,
		Map:          m,
		Graph:        g,
		Detector:     detector,
		BackEnd:      be,
		KeyframeSkip: DefaultKeyframeSkip,
		logger:       logger,
	}
}

func (f *FrontEnd) init() {
	f.Matcher.Reset()
	f.Graph.Reset()
	f.loopArcs = 0
}

// Process runs one scan through the cycle. Resource exhaustion is logged and processing
// continues. A returned error comes from pose adjustment after a loop closure; the scan itself
// has been added.
func (f *FrontEnd) Process(ctx context.Context, scan geometry.Scan) error {
	ctx, span := trace.StartSpan(ctx, "viamlaserslam::frontend::Process")
	defer span.End()

	if f.cnt == 0 {
		f.init()
	}

	if _, err := f.Matcher.MatchScan(scan); err != nil {
		f.logger.Warnw("point cloud map is full", "scan", f.cnt, "error", err)
	}
	curPose := f.Map.LastPose()

	if f.cnt == 0 {
		if _, err := f.Graph.AddNode(curPose); err != nil {
			f.logger.Warnw("dropping pose graph node", "scan", f.cnt, "error", err)
		}
	} else if err := f.makeOdometryArc(curPose, f.Matcher.FusedCov()); err != nil {
		f.logger.Warnw("dropping odometry arc", "scan", f.cnt, "error", err)
	}

	keyframe := f.cnt%f.KeyframeSkip == 0
	if keyframe {
		if f.cnt == 0 {
			f.Map.SetNThre(firstKeyframeNThre)
		} else {
			f.Map.SetNThre(keyframeNThre)
		}
		f.Map.MakeGlobalMap()
	}

	var err error
	if keyframe && f.cnt > f.KeyframeSkip {
		if _, found := f.Detector.DetectLoop(f.Map.LastScan(), curPose, f.cnt); found {
			err = f.adjust(ctx)
		}
	}

	f.loopArcs = f.Graph.CountLoopArcs()
	f.logger.Debugf("scan %d: map points %d, loop arcs %d", f.cnt, len(f.Map.GlobalMap()), f.loopArcs)
	f.cnt++
	return err
}

// makeOdometryArc adds a node at curPose and joins it to the previous node. fusedCov is in the
// map frame and is rotated into the previous node's frame.
func (f *FrontEnd) makeOdometryArc(curPose geometry.Pose, fusedCov *mat.Dense) error {
	last, ok := f.Graph.LastNode()
	if !ok {
		return errors.New("pose graph has no node to extend")
	}
	id, err := f.Graph.AddNode(curPose)
	if err != nil {
		return err
	}
	rel := geometry.RelativePose(curPose, last.Pose)
	cov := covariance.Rotate(last.Pose, fusedCov, true)
	_, err = f.Graph.AddArc(f.Graph.MakeArc(last.ID, id, rel, cov))
	return err
}

func (f *FrontEnd) adjust(ctx context.Context) error {
	if f.BackEnd == nil {
		return nil
	}
	if _, err := f.BackEnd.AdjustPoses(ctx); err != nil {
		return errors.Wrapf(err, "adjusting poses at scan %d", f.cnt)
	}
	if err := f.BackEnd.RemakeMaps(); err != nil {
		return errors.Wrapf(err, "remaking maps at scan %d", f.cnt)
	}
	return nil
}

// FinalOptimization adjusts the whole graph once more and rebuilds the global map.
func (f *FrontEnd) FinalOptimization(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "viamlaserslam::frontend::FinalOptimization")
	defer span.End()

	if len(f.Graph.Nodes()) == 0 {
		return nil
	}
	if err := f.adjust(ctx); err != nil {
		return err
	}
	f.Map.MakeGlobalMap()
	return nil
}

// Count is the number of processed scans.
func (f *FrontEnd) Count() int {
	return f.cnt
}

// Poses returns a copy of the estimated trajectory.
func (f *FrontEnd) Poses() []geometry.Pose {
	return append([]geometry.Pose(nil), f.Map.Poses()...)
}

// LastPose is the estimated pose of the last scan.
func (f *FrontEnd) LastPose() geometry.Pose {
	return f.Map.LastPose()
}

// GlobalMap returns a copy of the global map as of the last keyframe.
func (f *FrontEnd) GlobalMap() []geometry.Point {
	return append([]geometry.Point(nil), f.Map.GlobalMap()...)
}

// Arcs returns a copy of the pose graph arcs.
func (f *FrontEnd) Arcs() []posegraph.Arc {
	return append([]posegraph.Arc(nil), f.Graph.Arcs()...)
}

// LoopMatches returns the loops accepted so far.
func (f *FrontEnd) LoopMatches() []loopdetect.LoopMatch {
	return f.Detector.LoopMatches()
}

// Diagnostics implements the session diagnostics.
func (f *FrontEnd) Diagnostics() Diagnostics {
	return Diagnostics{
		Count:     f.cnt,
		LoopArcs:  f.loopArcs,
		MapPoints: f.Map.Size(),
		ATD:       f.Map.ATD(),
		Scan:      f.Matcher.Diagnostics(),
	}
}
