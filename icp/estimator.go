package icp

import (
	"math"

	"github.com/viamrobotics/viam-laserslam/geometry"
)

// Result is the outcome of one registration.
type Result struct {
	// Score is the best cost reached, +Inf when no pair could ever be scored.
	Score   float64
	Pose    geometry.Pose
	PnRate  float64
	UsedNum int
}

// Estimator alternates association and pose optimization until the cost settles.
type Estimator struct {
	Associator Associator
	Optimizer  PoseOptimizer
	EvThre     float64

	matches Matches
}

// NewEstimator returns an estimator over the given strategies. The cost function is the one
// held by the optimizer.
func NewEstimator(assoc Associator, opt PoseOptimizer) *Estimator {
	opt.CostFunction().SetEvLimit(DefaultEvLimit)
	return &Estimator{Associator: assoc, Optimizer: opt, EvThre: DefaultEvThre}
}

// SetReference replaces the reference points associations are made against.
func (e *Estimator) SetReference(ref []geometry.Point) {
	e.Associator.SetReference(ref)
}

// Matches returns the association made by the last iteration of the last Estimate.
func (e *Estimator) Matches() Matches {
	return e.matches
}

// Estimate registers cur against ref starting from init.
func (e *Estimator) Estimate(cur []geometry.Point, ref []geometry.Point, init geometry.Pose) Result {
	e.Associator.SetReference(ref)
	return e.EstimateAgainstReference(cur, init)
}

// EstimateAgainstReference registers cur against the reference already held by the associator.
func (e *Estimator) EstimateAgainstReference(cur []geometry.Point, init geometry.Pose) Result {
	cf := e.Optimizer.CostFunction()
	ref := e.Associator.Reference()

	best := Result{Score: math.Inf(1), Pose: init}
	pose := init
	ev := 0.0
	evold := math.Inf(1)
	for i := 0; math.Abs(evold-ev) > e.EvThre && i < MaxIterations; i++ {
		if i > 0 {
			evold = ev
		}
		e.matches = e.Associator.Associate(cur, pose)
		cf.SetPairs(cur, ref, e.matches)
		ev, pose = e.Optimizer.Optimize(pose)
		if ev < best.Score {
			best.Score = ev
			best.Pose = pose
		}
		if math.IsInf(ev, 1) {
			break
		}
	}

	best.UsedNum = e.matches.Len()
	if best.UsedNum > 0 {
		cf.Cost(best.Pose.Tx, best.Pose.Ty, best.Pose.Th())
		best.PnRate = cf.PnRate()
	}
	return best
}
