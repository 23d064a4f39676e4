package icp

import "math"

const (
	goldenSection = 0.3819660
	// brentTolerance matches half of float64 mantissa precision.
	brentTolerance = 1.0 / (1 << 25)
)

// brentMinimize finds a local minimum of f on [lo, hi] with Brent's method, combining golden
// section steps with parabolic interpolation. It returns the abscissa and value of the minimum.
func brentMinimize(f func(float64) float64, lo, hi float64, maxIter int) (float64, float64) {
	x, w, v := hi, hi, hi
	fx := f(x)
	fw, fv := fx, fx
	var delta, delta2 float64

	for iter := 0; iter < maxIter; iter++ {
		mid := (lo + hi) / 2
		fract1 := brentTolerance*math.Abs(x) + brentTolerance/4
		fract2 := 2 * fract1
		if math.Abs(x-mid) <= fract2-(hi-lo)/2 {
			break
		}

		golden := true
		if math.Abs(delta2) > fract1 {
			r := (x - w) * (fx - fv)
			q := (x - v) * (fx - fw)
			p := (x-v)*q - (x-w)*r
			q = 2 * (q - r)
			if q > 0 {
				p = -p
			}
			q = math.Abs(q)
			td := delta2
			delta2 = delta
			if math.Abs(p) < math.Abs(q*td/2) && p > q*(lo-x) && p < q*(hi-x) {
				golden = false
				delta = p / q
				if u := x + delta; u-lo < fract2 || hi-u < fract2 {
					delta = math.Copysign(fract1, mid-x)
				}
			}
		}
		if golden {
			if x >= mid {
				delta2 = lo - x
			} else {
				delta2 = hi - x
			}
			delta = goldenSection * delta2
		}

		var u float64
		switch {
		case math.Abs(delta) >= fract1:
			u = x + delta
		case delta > 0:
			u = x + fract1
		default:
			u = x - fract1
		}
		fu := f(u)

		if fu <= fx {
			if u >= x {
				lo = x
			} else {
				hi = x
			}
			v, w, x = w, x, u
			fv, fw, fx = fw, fx, fu
			continue
		}
		if u < x {
			lo = u
		} else {
			hi = u
		}
		switch {
		case fu <= fw || w == x:
			v, w = w, u
			fv, fw = fw, fu
		case fu <= fv || v == x || v == w:
			v = u
			fv = fu
		}
	}
	return x, fx
}
