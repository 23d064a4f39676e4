package icp

import (
	"math"

	"github.com/viamrobotics/viam-laserslam/geometry"
)

// DefaultEvLimit is the residual in meters under which a pair counts as a good match.
const DefaultEvLimit = 0.2

// CostFunction scores a candidate transform (tx, ty in meters, th in degrees) over matched pairs.
// The score is the mean squared residual times 100, or +Inf when there is nothing to score.
type CostFunction interface {
	SetPairs(cur, ref []geometry.Point, m Matches)
	SetEvLimit(limit float64)
	Cost(tx, ty, th float64) float64
	// PnRate is the fraction of scored pairs under the residual limit at the last Cost call.
	PnRate() float64
}

type pairs struct {
	cur     []geometry.Point
	ref     []geometry.Point
	m       Matches
	evlimit float64
	pnrate  float64
}

func (p *pairs) SetPairs(cur, ref []geometry.Point, m Matches) {
	p.cur = cur
	p.ref = ref
	p.m = m
}

func (p *pairs) SetEvLimit(limit float64) {
	p.evlimit = limit
}

func (p *pairs) PnRate() float64 {
	return p.pnrate
}

// fold applies residual to each pair and keeps the running statistics.
func (p *pairs) fold(tx, ty, th float64, residual func(x, y float64, r geometry.Point) (float64, bool)) float64 {
	a := geometry.DegToRad(th)
	cs, sn := math.Cos(a), math.Sin(a)
	lim2 := p.evlimit * p.evlimit
	var sum float64
	nn, pn := 0, 0
	for k := range p.m.Cur {
		c := p.cur[p.m.Cur[k]]
		r := p.ref[p.m.Ref[k]]
		x := cs*c.X - sn*c.Y + tx
		y := sn*c.X + cs*c.Y + ty
		e, ok := residual(x, y, r)
		if !ok {
			continue
		}
		if e <= lim2 {
			pn++
		}
		sum += e
		nn++
	}
	if nn == 0 {
		p.pnrate = 0
		return math.Inf(1)
	}
	p.pnrate = float64(pn) / float64(nn)
	return sum / float64(nn) * 100
}

// EuclideanCost scores the squared point to point distance.
type EuclideanCost struct {
	pairs
}

// NewEuclideanCost returns a point to point cost function.
func NewEuclideanCost() *EuclideanCost {
	return &EuclideanCost{pairs{evlimit: DefaultEvLimit}}
}

// Cost implements CostFunction.
func (c *EuclideanCost) Cost(tx, ty, th float64) float64 {
	return c.fold(tx, ty, th, func(x, y float64, r geometry.Point) (float64, bool) {
		dx := x - r.X
		dy := y - r.Y
		return dx*dx + dy*dy, true
	})
}

// PointToLineCost scores the squared distance along the reference normal. Only pairs whose
// reference point is a Line point are scored.
type PointToLineCost struct {
	pairs
}

// NewPointToLineCost returns a point to line cost function.
func NewPointToLineCost() *PointToLineCost {
	return &PointToLineCost{pairs{evlimit: DefaultEvLimit}}
}

// Cost implements CostFunction.
func (c *PointToLineCost) Cost(tx, ty, th float64) float64 {
	return c.fold(tx, ty, th, func(x, y float64, r geometry.Point) (float64, bool) {
		if r.Type != geometry.Line {
			return 0, false
		}
		d := (x-r.X)*r.NX + (y-r.Y)*r.NY
		return d * d, true
	})
}
