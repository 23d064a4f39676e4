package icp

import (
	"math"
	"math/rand"
	"testing"

	"go.viam.com/test"

	"github.com/viamrobotics/viam-laserslam/geometry"
	"github.com/viamrobotics/viam-laserslam/internal/testhelper"
)

var room = testhelper.Room{HalfWidth: 3, HalfHeight: 2}

func newLineSearchEstimator() *Estimator {
	return NewEstimator(NewLinearAssociator(), NewLineSearch(NewEuclideanCost()))
}

func TestAssociate(t *testing.T) {
	t.Run("grid and linear agree", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		ref := make([]geometry.Point, 500)
		for i := range ref {
			ref[i] = geometry.NewPoint(0, rng.Float64()*4-2, rng.Float64()*4-2)
		}
		cur := make([]geometry.Point, 300)
		for i := range cur {
			cur[i] = geometry.NewPoint(1, rng.Float64()*4-2, rng.Float64()*4-2)
		}
		pose := geometry.NewPose(0.1, -0.05, 3)

		linear := NewLinearAssociator()
		linear.SetReference(ref)
		grid := NewGridAssociator()
		grid.SetReference(ref)

		lm := linear.Associate(cur, pose)
		gm := grid.Associate(cur, pose)
		test.That(t, lm.Len(), test.ShouldBeGreaterThan, 0)
		test.That(t, gm.Cur, test.ShouldResemble, lm.Cur)
		test.That(t, gm.Ref, test.ShouldResemble, lm.Ref)
		test.That(t, gm.Ratio, test.ShouldEqual, lm.Ratio)
	})

	t.Run("gate excludes far points", func(t *testing.T) {
		a := NewLinearAssociator()
		a.SetReference([]geometry.Point{geometry.NewPoint(0, 0, 0)})
		m := a.Associate([]geometry.Point{geometry.NewPoint(1, 0.1, 0), geometry.NewPoint(1, 1, 0)}, geometry.Pose{})
		test.That(t, m.Cur, test.ShouldResemble, []int{0})
		test.That(t, m.Ref, test.ShouldResemble, []int{0})
		test.That(t, m.Ratio, test.ShouldEqual, 0.5)
	})

	t.Run("empty current scan", func(t *testing.T) {
		a := NewGridAssociator()
		a.SetReference(room.Walls(0.05))
		m := a.Associate(nil, geometry.Pose{})
		test.That(t, m.Len(), test.ShouldEqual, 0)
		test.That(t, m.Ratio, test.ShouldEqual, 0)
	})
}

func TestCost(t *testing.T) {
	ref := []geometry.Point{geometry.NewPoint(0, 1, 0), geometry.NewPoint(0, 0, 1)}
	ref[0].SetNormal(-1, 0)
	ref[0].Type = geometry.Line
	ref[1].Type = geometry.Isolate
	cur := []geometry.Point{geometry.NewPoint(1, 1.1, 0.3), geometry.NewPoint(1, 0, 1.1)}
	m := Matches{Cur: []int{0, 1}, Ref: []int{0, 1}}

	t.Run("euclidean", func(t *testing.T) {
		c := NewEuclideanCost()
		c.SetPairs(cur, ref, m)
		test.That(t, c.Cost(0, 0, 0), test.ShouldAlmostEqual, (0.1*0.1+0.3*0.3+0.1*0.1)/2*100, 1e-9)
		test.That(t, c.PnRate(), test.ShouldEqual, 0.5)
	})

	t.Run("point to line only scores line references", func(t *testing.T) {
		c := NewPointToLineCost()
		c.SetPairs(cur, ref, m)
		test.That(t, c.Cost(0, 0, 0), test.ShouldAlmostEqual, 0.1*0.1*100, 1e-9)
		test.That(t, c.PnRate(), test.ShouldEqual, 1)
	})

	t.Run("nothing to score", func(t *testing.T) {
		c := NewEuclideanCost()
		c.SetPairs(cur, ref, Matches{})
		test.That(t, math.IsInf(c.Cost(0, 0, 0), 1), test.ShouldBeTrue)
		test.That(t, c.PnRate(), test.ShouldEqual, 0)
	})
}

func TestBrentMinimize(t *testing.T) {
	x, fx := brentMinimize(func(x float64) float64 { return (x - 0.7) * (x - 0.7) }, -2, 2, 40)
	test.That(t, x, test.ShouldAlmostEqual, 0.7, 1e-6)
	test.That(t, fx, test.ShouldAlmostEqual, 0, 1e-9)

	x, _ = brentMinimize(func(x float64) float64 { return x }, -2, 2, 40)
	test.That(t, x, test.ShouldBeLessThan, -1.99)
}

func TestOptimizers(t *testing.T) {
	ref := room.Walls(0.05)
	truth := geometry.NewPose(0.04, -0.03, 0)
	cur := testhelper.RelativeTo(truth, ref)
	m := Matches{}
	for i := range cur {
		m.Cur = append(m.Cur, i)
		m.Ref = append(m.Ref, i)
	}

	t.Run("line search reaches the true pose", func(t *testing.T) {
		cf := NewEuclideanCost()
		cf.SetPairs(cur, ref, m)
		score, pose := NewLineSearch(cf).Optimize(geometry.Pose{})
		test.That(t, score, test.ShouldBeLessThan, 1e-4)
		test.That(t, pose.Tx, test.ShouldAlmostEqual, truth.Tx, 1e-3)
		test.That(t, pose.Ty, test.ShouldAlmostEqual, truth.Ty, 1e-3)
	})

	t.Run("gradient descent never returns a worse pose", func(t *testing.T) {
		cf := NewEuclideanCost()
		cf.SetPairs(cur, ref, m)
		initial := cf.Cost(0, 0, 0)
		score, pose := NewGradientDescent(cf).Optimize(geometry.Pose{})
		test.That(t, score, test.ShouldBeLessThanOrEqualTo, initial)
		test.That(t, cf.Cost(pose.Tx, pose.Ty, pose.Th()), test.ShouldEqual, score)
	})

	t.Run("empty pairs", func(t *testing.T) {
		cf := NewEuclideanCost()
		score, pose := NewLineSearch(cf).Optimize(geometry.NewPose(1, 2, 3))
		test.That(t, math.IsInf(score, 1), test.ShouldBeTrue)
		test.That(t, pose.Tx, test.ShouldEqual, 1)
		test.That(t, pose.Th(), test.ShouldEqual, 3)
	})
}

func TestEstimate(t *testing.T) {
	ref := room.Walls(0.05)

	t.Run("recovers a translation", func(t *testing.T) {
		truth := geometry.NewPose(0.015, -0.01, 0)
		cur := testhelper.RelativeTo(truth, ref)
		res := newLineSearchEstimator().Estimate(cur, ref, geometry.Pose{})
		test.That(t, res.Pose.Tx, test.ShouldAlmostEqual, truth.Tx, 1e-3)
		test.That(t, res.Pose.Ty, test.ShouldAlmostEqual, truth.Ty, 1e-3)
		test.That(t, res.Score, test.ShouldBeLessThan, 1e-3)
		test.That(t, res.PnRate, test.ShouldEqual, 1)
		test.That(t, res.UsedNum, test.ShouldEqual, len(cur))
	})

	t.Run("recovers a rotation", func(t *testing.T) {
		truth := geometry.NewPose(0, 0, 0.3)
		cur := testhelper.RelativeTo(truth, ref)
		res := newLineSearchEstimator().Estimate(cur, ref, geometry.Pose{})
		test.That(t, res.Pose.Th(), test.ShouldAlmostEqual, truth.Th(), 0.02)
		test.That(t, res.PnRate, test.ShouldEqual, 1)
	})

	t.Run("grid associator with point to line cost", func(t *testing.T) {
		truth := geometry.NewPose(0.05, 0.05, 1)
		cur := testhelper.RelativeTo(truth, ref)
		e := NewEstimator(NewGridAssociator(), NewLineSearch(NewPointToLineCost()))
		init := geometry.Pose{}
		e.Associator.SetReference(ref)
		m := e.Associator.Associate(cur, init)
		cf := NewPointToLineCost()
		cf.SetPairs(cur, ref, m)
		initial := cf.Cost(0, 0, 0)

		res := e.Estimate(cur, ref, init)
		test.That(t, res.Score, test.ShouldBeLessThanOrEqualTo, initial)
		test.That(t, res.UsedNum, test.ShouldEqual, e.Matches().Len())
	})

	t.Run("nothing in range", func(t *testing.T) {
		cur := []geometry.Point{geometry.NewPoint(1, 100, 100)}
		res := newLineSearchEstimator().Estimate(cur, ref, geometry.NewPose(0.5, 0, 10))
		test.That(t, math.IsInf(res.Score, 1), test.ShouldBeTrue)
		test.That(t, res.UsedNum, test.ShouldEqual, 0)
		test.That(t, res.PnRate, test.ShouldEqual, 0)
		test.That(t, res.Pose.Tx, test.ShouldEqual, 0.5)
	})
}
