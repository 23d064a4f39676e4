package icp

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/viamrobotics/viam-laserslam/geometry"
)

const (
	// DefaultEvThre is the cost delta under which an optimization is considered converged.
	DefaultEvThre = 1e-6
	// DefaultDiffStep is the finite difference step for translation (m) and rotation (deg).
	DefaultDiffStep = 1e-5
	// DefaultDescentRate scales the gradient step of GradientDescent.
	DefaultDescentRate = 1e-5
	// MaxIterations caps every optimization loop.
	MaxIterations = 100

	lineSearchLow     = -2.0
	lineSearchHigh    = 2.0
	lineSearchMaxIter = 40
)

// PoseOptimizer minimizes a cost function over (tx, ty, th) starting at an initial pose.
// It returns the best cost seen and the pose that produced it.
type PoseOptimizer interface {
	SetCostFunction(cf CostFunction)
	CostFunction() CostFunction
	SetEvThre(thre float64)
	Optimize(init geometry.Pose) (float64, geometry.Pose)
}

// bestSoFar is the fold value carried across iterations.
type bestSoFar struct {
	cost float64
	x    []float64
}

func (b bestSoFar) fold(cost float64, x []float64) bestSoFar {
	if cost < b.cost {
		return bestSoFar{cost: cost, x: append([]float64(nil), x...)}
	}
	return b
}

func (b bestSoFar) pose() geometry.Pose {
	return geometry.NewPose(b.x[0], b.x[1], b.x[2])
}

type optimizerBase struct {
	cf     CostFunction
	evThre float64
	dd     float64
	da     float64
}

func newOptimizerBase(cf CostFunction) optimizerBase {
	return optimizerBase{cf: cf, evThre: DefaultEvThre, dd: DefaultDiffStep, da: DefaultDiffStep}
}

func (o *optimizerBase) SetCostFunction(cf CostFunction) {
	o.cf = cf
}

func (o *optimizerBase) CostFunction() CostFunction {
	return o.cf
}

func (o *optimizerBase) SetEvThre(thre float64) {
	o.evThre = thre
}

func (o *optimizerBase) cost(x []float64) float64 {
	return o.cf.Cost(x[0], x[1], x[2])
}

// gradient is the forward difference gradient of the cost at x, whose cost is ev.
func (o *optimizerBase) gradient(x []float64, ev float64) []float64 {
	return []float64{
		(o.cf.Cost(x[0]+o.dd, x[1], x[2]) - ev) / o.dd,
		(o.cf.Cost(x[0], x[1]+o.dd, x[2]) - ev) / o.dd,
		(o.cf.Cost(x[0], x[1], x[2]+o.da) - ev) / o.da,
	}
}

// iterate runs step until the cost stops changing or the iteration cap is hit.
func (o *optimizerBase) iterate(init geometry.Pose, step func(x []float64, ev float64) float64) (float64, geometry.Pose) {
	x := []float64{init.Tx, init.Ty, init.Th()}
	ev := o.cost(x)
	best := bestSoFar{cost: ev, x: append([]float64(nil), x...)}
	evold := math.Inf(1)
	for i := 0; math.Abs(evold-ev) > o.evThre && i < MaxIterations; i++ {
		evold = ev
		ev = step(x, ev)
		best = best.fold(ev, x)
	}
	return best.cost, best.pose()
}

// GradientDescent takes fixed-rate steps against the numeric gradient.
type GradientDescent struct {
	optimizerBase
	Rate float64
}

// NewGradientDescent returns a steepest descent optimizer over cf.
func NewGradientDescent(cf CostFunction) *GradientDescent {
	return &GradientDescent{optimizerBase: newOptimizerBase(cf), Rate: DefaultDescentRate}
}

// Optimize implements PoseOptimizer.
func (o *GradientDescent) Optimize(init geometry.Pose) (float64, geometry.Pose) {
	return o.iterate(init, func(x []float64, ev float64) float64 {
		g := o.gradient(x, ev)
		floats.AddScaled(x, -o.Rate, g)
		return o.cost(x)
	})
}

// LineSearch moves along the numeric gradient and minimizes the cost on that line with
// Brent's method over a fixed bracket.
type LineSearch struct {
	optimizerBase
}

// NewLineSearch returns a gradient plus line search optimizer over cf.
func NewLineSearch(cf CostFunction) *LineSearch {
	return &LineSearch{optimizerBase: newOptimizerBase(cf)}
}

// Optimize implements PoseOptimizer.
func (o *LineSearch) Optimize(init geometry.Pose) (float64, geometry.Pose) {
	return o.iterate(init, func(x []float64, ev float64) float64 {
		dir := o.gradient(x, ev)
		if floats.Norm(dir, 2) == 0 {
			return ev
		}
		// the bracket is centered one gradient step away from x
		floats.Add(x, dir)
		start := append([]float64(nil), x...)
		at := func(t float64) []float64 {
			return []float64{
				start[0] + t*dir[0],
				start[1] + t*dir[1],
				geometry.AddDeg(start[2], t*dir[2]),
			}
		}
		t, _ := brentMinimize(func(t float64) float64 {
			return o.cost(at(t))
		}, lineSearchLow, lineSearchHigh, lineSearchMaxIter)
		copy(x, at(t))
		return o.cost(x)
	})
}
