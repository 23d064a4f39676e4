package frontend

import (
	"context"
	"math"
	"testing"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/viamrobotics/viam-laserslam/backend"
	"github.com/viamrobotics/viam-laserslam/covariance"
	"github.com/viamrobotics/viam-laserslam/geometry"
	"github.com/viamrobotics/viam-laserslam/graphsolver"
	"github.com/viamrobotics/viam-laserslam/icp"
	"github.com/viamrobotics/viam-laserslam/internal/testhelper"
	"github.com/viamrobotics/viam-laserslam/loopdetect"
	"github.com/viamrobotics/viam-laserslam/pointcloudmap"
	"github.com/viamrobotics/viam-laserslam/posegraph"
	"github.com/viamrobotics/viam-laserslam/scanmatch"
	"github.com/viamrobotics/viam-laserslam/scanpoint"
)

func newFrontEnd(logger logging.Logger, g *posegraph.Graph, withLoops bool) *FrontEnd {
	m := pointcloudmap.NewSubmaps(0)
	est := icp.NewEstimator(icp.NewGridAssociator(), icp.NewLineSearch(icp.NewPointToLineCost()))
	matcher := scanmatch.New(est, covariance.NewFuser(), scanmatch.LocalMapRef{Map: m}, m, logger)
	r := scanpoint.NewResampler()
	c := scanpoint.NewClassifier()
	matcher.Resampler = &r
	matcher.Classifier = &c
	matcher.DegeneracyCheck = true

	var detector loopdetect.Detector = loopdetect.None{}
	if withLoops {
		detector = loopdetect.NewSubmaps(m, g, logger)
	}
	be := backend.New(g, m, graphsolver.New(), logger)
	return New(matcher, m, g, detector, be, logger)
}

func TestProcess(t *testing.T) {
	room := testhelper.Room{HalfWidth: 3, HalfHeight: 2}
	truth := testhelper.NewPath(geometry.NewPose(-1.5, 0, 0)).Forward(1.2, 0.05).Turn(30, 5).Poses
	odom := testhelper.DriftedOdometry(truth, 1.05, 1.02)

	t.Run("builds the graph and the map", func(t *testing.T) {
		g := posegraph.New(0, 0)
		f := newFrontEnd(logging.NewTestLogger(t), g, false)
		f.Matcher.SetInitPose(truth[0])
		for i := range truth {
			test.That(t, f.Process(context.Background(), room.ScanAt(i, truth[i], odom[i], 360, 6)), test.ShouldBeNil)
		}

		test.That(t, f.Count(), test.ShouldEqual, len(truth))
		test.That(t, len(g.Nodes()), test.ShouldEqual, len(truth))
		test.That(t, len(f.Arcs()), test.ShouldEqual, len(truth)-1)
		for i, a := range f.Arcs() {
			test.That(t, a.Src, test.ShouldEqual, i)
			test.That(t, a.Dst, test.ShouldEqual, i+1)
		}
		test.That(t, len(f.Poses()), test.ShouldEqual, len(truth))
		test.That(t, f.GlobalMap(), test.ShouldNotBeEmpty)

		last := f.LastPose()
		want := truth[len(truth)-1]
		test.That(t, last.Tx, test.ShouldAlmostEqual, want.Tx, 0.05)
		test.That(t, last.Ty, test.ShouldAlmostEqual, want.Ty, 0.05)
		test.That(t, geometry.AddDeg(last.Th(), -want.Th()), test.ShouldAlmostEqual, 0, 1)

		d := f.Diagnostics()
		test.That(t, d.Count, test.ShouldEqual, len(truth))
		test.That(t, d.LoopArcs, test.ShouldEqual, 0)
		test.That(t, d.MapPoints, test.ShouldBeGreaterThan, 0)
		test.That(t, d.Scan.ScanID, test.ShouldEqual, len(truth)-1)
		test.That(t, f.LoopMatches(), test.ShouldBeEmpty)

		test.That(t, f.FinalOptimization(context.Background()), test.ShouldBeNil)
		test.That(t, len(f.Poses()), test.ShouldEqual, len(truth))
	})

	t.Run("pool exhaustion is logged and skipped", func(t *testing.T) {
		logger, logs := logging.NewObservedTestLogger(t)
		g := posegraph.New(5, 0)
		f := newFrontEnd(logger, g, false)
		f.Matcher.SetInitPose(truth[0])
		for i := 0; i < 8; i++ {
			test.That(t, f.Process(context.Background(), room.ScanAt(i, truth[i], odom[i], 360, 6)), test.ShouldBeNil)
		}
		test.That(t, f.Count(), test.ShouldEqual, 8)
		test.That(t, len(g.Nodes()), test.ShouldEqual, 5)
		test.That(t, len(g.Arcs()), test.ShouldEqual, 4)
		test.That(t, len(f.Poses()), test.ShouldEqual, 8)
		test.That(t, logs.FilterMessageSnippet("dropping odometry arc").Len(), test.ShouldEqual, 3)
	})
}

func TestOdometryMapper(t *testing.T) {
	room := testhelper.Room{HalfWidth: 3, HalfHeight: 2}
	o := NewOdometryMapper(pointcloudmap.NewAll(0), logging.NewTestLogger(t))
	scans := []geometry.Scan{
		room.ScanAt(0, geometry.Pose{}, geometry.NewPose(10, 5, 90), 90, 6),
		room.ScanAt(1, geometry.NewPose(0, 0.5, 0), geometry.NewPose(10, 5.5, 90), 90, 6),
	}
	for _, s := range scans {
		test.That(t, o.Process(context.Background(), s), test.ShouldBeNil)
	}
	test.That(t, o.Count(), test.ShouldEqual, 2)
	poses := o.Poses()
	test.That(t, poses[0].Tx, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, poses[1].Tx, test.ShouldAlmostEqual, 0.5, 1e-12)
	test.That(t, poses[1].Ty, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, o.LastPose().Tx, test.ShouldAlmostEqual, 0.5, 1e-12)
	test.That(t, o.GlobalMap(), test.ShouldNotBeEmpty)
	test.That(t, o.Arcs(), test.ShouldBeEmpty)
	test.That(t, o.FinalOptimization(context.Background()), test.ShouldBeNil)
	test.That(t, o.Diagnostics().Scan.ScanID, test.ShouldEqual, 1)
}

// TestRectangularLoop drives a closed rectangle with drifting odometry and expects the loop to be
// closed exactly once when the start is revisited.
func TestRectangularLoop(t *testing.T) {
	if testing.Short() {
		t.Skip("long end to end mapping run")
	}
	room := testhelper.Room{HalfWidth: 5, HalfHeight: 4}
	truth := testhelper.NewPath(geometry.NewPose(-3, -2.5, 0)).
		Forward(6, 0.1).Turn(90, 10).
		Forward(5, 0.1).Turn(90, 10).
		Forward(6, 0.1).Turn(90, 10).
		Forward(5, 0.1).Turn(90, 10).
		Forward(1.5, 0.1).Poses
	odom := testhelper.DriftedOdometry(truth, 1.03, 1.02)

	g := posegraph.New(0, 0)
	f := newFrontEnd(logging.NewTestLogger(t), g, true)
	f.Matcher.SetInitPose(truth[0])
	for i := range truth {
		test.That(t, f.Process(context.Background(), room.ScanAt(i, truth[i], odom[i], 360, 6)), test.ShouldBeNil)
	}

	test.That(t, g.CountLoopArcs(), test.ShouldEqual, 1)
	test.That(t, len(f.LoopMatches()), test.ShouldEqual, 1)

	// Raw odometry is far off by the end of the loop.
	end := len(truth) - 1
	odomEnd := geometry.GlobalPose(geometry.RelativePose(odom[end], odom[0]), truth[0])
	test.That(t, math.Hypot(odomEnd.Tx-truth[end].Tx, odomEnd.Ty-truth[end].Ty), test.ShouldBeGreaterThan, 0.5)

	poses := f.Poses()
	test.That(t, poses[0].Tx, test.ShouldAlmostEqual, truth[0].Tx, 1e-6)
	test.That(t, poses[0].Ty, test.ShouldAlmostEqual, truth[0].Ty, 1e-6)
	last := poses[end]
	test.That(t, last.Tx, test.ShouldAlmostEqual, truth[end].Tx, 0.1)
	test.That(t, last.Ty, test.ShouldAlmostEqual, truth[end].Ty, 0.1)
	test.That(t, geometry.AddDeg(last.Th(), -truth[end].Th()), test.ShouldAlmostEqual, 0, 2)
}
