// Package graphsolver is a Gauss-Newton pose graph solver over SE(2). The first node anchors the
// graph. Each step solves the sparse normal equations with block Jacobi preconditioned conjugate
// gradients.
package graphsolver

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-laserslam/backend"
	"github.com/viamrobotics/viam-laserslam/covariance"
	"github.com/viamrobotics/viam-laserslam/geometry"
)

const (
	// DefaultStepTolerance stops iterating once no pose moves by more than this.
	DefaultStepTolerance = 1e-9
	cgTolerance          = 1e-12
)

// Solver implements backend.Solver.
type Solver struct {
	StepTolerance float64
}

// New returns a solver with default settings.
func New() *Solver {
	return &Solver{StepTolerance: DefaultStepTolerance}
}

type block [3][3]float64

type offDiagonal struct {
	i, j int
	h    block
}

// system is the normal equations H dx = -b with H stored as 3x3 blocks.
type system struct {
	diag []block
	off  []offDiagonal
	b    []float64
}

// Solve implements backend.Solver.
func (s *Solver) Solve(
	ctx context.Context,
	nodes []geometry.Pose,
	constraints []backend.Constraint,
	iterations int,
) ([]geometry.Pose, error) {
	n := len(nodes)
	if len(constraints) == 0 {
		return append([]geometry.Pose(nil), nodes...), nil
	}
	x := make([]float64, 3*n)
	for i, p := range nodes {
		x[3*i] = p.Tx
		x[3*i+1] = p.Ty
		x[3*i+2] = geometry.DegToRad(p.Th())
	}
	for _, c := range constraints {
		if c.Src < 0 || c.Src >= n || c.Dst < 0 || c.Dst >= n {
			return nil, errors.Errorf("constraint %d->%d references a missing node", c.Src, c.Dst)
		}
	}

	for it := 0; it < iterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sys := linearize(x, constraints)
		dx := sys.solve()
		floats.Add(x, dx)
		for i := 0; i < n; i++ {
			x[3*i+2] = geometry.NormalizeRad(x[3*i+2])
		}
		if floats.Norm(dx, math.Inf(1)) < s.StepTolerance {
			break
		}
	}

	out := make([]geometry.Pose, n)
	for i := range out {
		out[i] = geometry.NewPose(x[3*i], x[3*i+1], geometry.RadToDeg(x[3*i+2]))
	}
	return out, nil
}

// linearize builds the normal equations of every constraint at x.
func linearize(x []float64, constraints []backend.Constraint) *system {
	n := len(x) / 3
	sys := &system{diag: make([]block, n), b: make([]float64, 3*n)}
	for _, c := range constraints {
		i, j := c.Src, c.Dst
		if i == j {
			continue
		}
		xi, yi, ti := x[3*i], x[3*i+1], x[3*i+2]
		xj, yj, tj := x[3*j], x[3*j+1], x[3*j+2]
		cs, sn := math.Cos(ti), math.Sin(ti)
		dx, dy := xj-xi, yj-yi

		e := []float64{
			cs*dx + sn*dy - c.Rel.Tx,
			-sn*dx + cs*dy - c.Rel.Ty,
			geometry.NormalizeRad(tj - ti - geometry.DegToRad(c.Rel.Th())),
		}
		a := mat.NewDense(3, 3, []float64{
			-cs, -sn, -sn*dx + cs*dy,
			sn, -cs, -cs*dx - sn*dy,
			0, 0, -1,
		})
		b := mat.NewDense(3, 3, []float64{
			cs, sn, 0,
			-sn, cs, 0,
			0, 0, 1,
		})

		var atO, btO, hii, hij, hjj mat.Dense
		atO.Mul(a.T(), c.Inf)
		btO.Mul(b.T(), c.Inf)
		hii.Mul(&atO, a)
		hij.Mul(&atO, b)
		hjj.Mul(&btO, b)

		ev := mat.NewVecDense(3, e)
		var bi, bj mat.VecDense
		bi.MulVec(&atO, ev)
		bj.MulVec(&btO, ev)

		addBlock(&sys.diag[i], &hii)
		addBlock(&sys.diag[j], &hjj)
		var off block
		addBlock(&off, &hij)
		sys.off = append(sys.off, offDiagonal{i: i, j: j, h: off})
		for k := 0; k < 3; k++ {
			sys.b[3*i+k] += bi.AtVec(k)
			sys.b[3*j+k] += bj.AtVec(k)
		}
	}
	return sys
}

func addBlock(dst *block, m mat.Matrix) {
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			dst[r][c] += m.At(r, c)
		}
	}
}

// mul computes y = H v. Node 0 is held fixed, so its rows and columns are dropped.
func (sys *system) mul(v, y []float64) {
	for k := range y {
		y[k] = 0
	}
	for i := 1; i < len(sys.diag); i++ {
		d := &sys.diag[i]
		for r := 0; r < 3; r++ {
			y[3*i+r] += d[r][0]*v[3*i] + d[r][1]*v[3*i+1] + d[r][2]*v[3*i+2]
		}
	}
	for _, o := range sys.off {
		if o.i == 0 || o.j == 0 {
			continue
		}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				y[3*o.i+r] += o.h[r][c] * v[3*o.j+c]
				y[3*o.j+c] += o.h[r][c] * v[3*o.i+r]
			}
		}
	}
}

// preconditioner returns the inverse of each diagonal block.
func (sys *system) preconditioner() []*mat.Dense {
	inv := make([]*mat.Dense, len(sys.diag))
	for i, d := range sys.diag {
		m := mat.NewDense(3, 3, []float64{
			d[0][0], d[0][1], d[0][2],
			d[1][0], d[1][1], d[1][2],
			d[2][0], d[2][1], d[2][2],
		})
		var di mat.Dense
		if err := di.Inverse(m); err != nil {
			inv[i] = covariance.PseudoInverse(m)
			continue
		}
		inv[i] = &di
	}
	return inv
}

func applyPreconditioner(inv []*mat.Dense, r, z []float64) {
	for i := range inv {
		if i == 0 {
			z[0], z[1], z[2] = 0, 0, 0
			continue
		}
		for row := 0; row < 3; row++ {
			z[3*i+row] = inv[i].At(row, 0)*r[3*i] + inv[i].At(row, 1)*r[3*i+1] + inv[i].At(row, 2)*r[3*i+2]
		}
	}
}

// solve runs preconditioned conjugate gradients on H dx = -b.
func (sys *system) solve() []float64 {
	size := len(sys.b)
	dx := make([]float64, size)
	r := make([]float64, size)
	floats.ScaleTo(r, -1, sys.b)
	r[0], r[1], r[2] = 0, 0, 0

	inv := sys.preconditioner()
	z := make([]float64, size)
	applyPreconditioner(inv, r, z)
	p := append([]float64(nil), z...)
	hp := make([]float64, size)
	rz := floats.Dot(r, z)
	stop := cgTolerance * math.Max(floats.Dot(r, r), 1)

	for k := 0; k < 2*size && floats.Dot(r, r) > stop; k++ {
		sys.mul(p, hp)
		php := floats.Dot(p, hp)
		if php <= 0 {
			break
		}
		alpha := rz / php
		floats.AddScaled(dx, alpha, p)
		floats.AddScaled(r, -alpha, hp)
		applyPreconditioner(inv, r, z)
		rzNext := floats.Dot(r, z)
		beta := rzNext / rz
		rz = rzNext
		for i := range p {
			p[i] = z[i] + beta*p[i]
		}
	}
	return dx
}
