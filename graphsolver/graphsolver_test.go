package graphsolver

import (
	"context"
	"testing"

	"go.viam.com/test"

	"github.com/viamrobotics/viam-laserslam/backend"
	"github.com/viamrobotics/viam-laserslam/covariance"
	"github.com/viamrobotics/viam-laserslam/geometry"
)

func squareConstraints(truth []geometry.Pose) []backend.Constraint {
	var cons []backend.Constraint
	for i := range truth {
		j := (i + 1) % len(truth)
		cons = append(cons, backend.Constraint{
			Src: i,
			Dst: j,
			Rel: geometry.RelativePose(truth[j], truth[i]),
			Inf: covariance.Identity(),
		})
	}
	return cons
}

func TestSolve(t *testing.T) {
	truth := []geometry.Pose{
		geometry.NewPose(0, 0, 0),
		geometry.NewPose(1, 0, 90),
		geometry.NewPose(1, 1, 180),
		geometry.NewPose(0, 1, -90),
	}

	t.Run("recovers a consistent loop", func(t *testing.T) {
		initial := []geometry.Pose{
			truth[0],
			geometry.NewPose(1.1, -0.05, 95),
			geometry.NewPose(1.2, 1.1, 170),
			geometry.NewPose(-0.1, 1.2, -80),
		}
		out, err := New().Solve(context.Background(), initial, squareConstraints(truth), 10)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(out), test.ShouldEqual, len(truth))
		for i := range truth {
			test.That(t, out[i].Tx, test.ShouldAlmostEqual, truth[i].Tx, 1e-4)
			test.That(t, out[i].Ty, test.ShouldAlmostEqual, truth[i].Ty, 1e-4)
			test.That(t, geometry.AddDeg(out[i].Th(), -truth[i].Th()), test.ShouldAlmostEqual, 0, 1e-3)
		}
	})

	t.Run("first node stays fixed", func(t *testing.T) {
		initial := append([]geometry.Pose(nil), truth...)
		initial[0] = geometry.NewPose(0.5, 0.5, 10)
		out, err := New().Solve(context.Background(), initial, squareConstraints(truth), 5)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out[0].Tx, test.ShouldAlmostEqual, 0.5, 1e-12)
		test.That(t, out[0].Th(), test.ShouldAlmostEqual, 10, 1e-9)
	})

	t.Run("no constraints", func(t *testing.T) {
		out, err := New().Solve(context.Background(), truth, nil, 5)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out, test.ShouldResemble, truth)
	})

	t.Run("bad constraint", func(t *testing.T) {
		cons := []backend.Constraint{{Src: 0, Dst: 9, Inf: covariance.Identity()}}
		_, err := New().Solve(context.Background(), truth, cons, 5)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := New().Solve(ctx, truth, squareConstraints(truth), 5)
		test.That(t, err, test.ShouldBeError, context.Canceled)
	})
}
