package optimize

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// updateCholesky performs a rank-one modification of the factorization
// B = L*D*L', producing factors of B + coeff*v*v' in lOut and dOut.
// Rows and columns of fixed variables pass through as zero.
//
// For coeff > 0 the sequential column update C1 is used; for coeff <= 0
// the algorithm C2 of Gill, Golub, Murray and Saunders, which first solves
// L*p = v and guards the running scalars against loss of positive
// definiteness. NaN or Inf appearing in the updated diagonal or in the
// running scalars means the modification is numerically invalid and is
// surfaced as a fatal error.
//
// vp and p are caller-provided scratch vectors of length n. The call is a
// pure function of its inputs; lOut/dOut must not alias l/d.
func (s *Solver) updateCholesky(l, d *mat.Dense, v []float64, coeff float64, fixed []bool,
	lOut, dOut *mat.Dense, vp, p []float64) error {

	const op = "updateCholesky"
	n := len(v)

	lOut.Zero()
	dOut.Zero()
	for i := 0; i < n; i++ {
		if !fixed[i] {
			vp[i] = v[i]
		} else {
			vp[i] = 0.0
		}
	}

	if coeff > 0.0 {
		t := coeff
		for j := 0; j < n; j++ {
			if fixed[j] {
				continue
			}
			lOut.Set(j, j, 1.0) // unit triangle

			pj := vp[j]
			dj := d.At(j, j)
			dbar := dj + t*pj*pj
			dOut.Set(j, j, dbar)

			b := pj * t / dbar
			t *= dj / dbar
			for r := j + 1; r < n; r++ {
				if !fixed[r] {
					lv := l.At(r, j)
					vp[r] -= pj * lv
					lOut.Set(r, j, lv+b*vp[r])
				}
			}
		}
		return nil
	}

	p = solveTriangle(l, v, true, fixed, p)
	t := 0.0
	for i := 0; i < n; i++ {
		if !fixed[i] {
			t += p[i] * p[i] / d.At(i, i)
		}
	}

	// t may round below zero for a downdate that is indefinite only
	// through rounding; clamp before the square root.
	root := 1.0 + coeff*t
	if root < 0.0 {
		root = 0.0
	}
	root = math.Sqrt(root)

	alpha, sigma := coeff, coeff/(1.0+root)

	for j := 0; j < n; j++ {
		if fixed[j] {
			continue
		}
		lOut.Set(j, j, 1.0) // unit triangle

		dj := d.At(j, j)
		pj := p[j] * p[j] / dj
		theta := 1.0 + sigma*pj
		t -= pj
		if t < 0.0 {
			t = 0.0 // rounding error
		}

		plus := sigma * sigma * pj * t
		if j < n-1 && plus <= s.zero {
			plus = s.zero
		}
		rho := theta*theta + plus
		dOut.Set(j, j, rho*dj)

		if math.IsNaN(dOut.At(j, j)) {
			return fatalf(ErrNumericBreakdown, op,
				"d[%d] is NaN: p=%v, d=%v, t=%v, pj=%v, sigma=%v, coeff=%v",
				j, p[j], dj, t, pj, sigma, coeff)
		}

		b := alpha * p[j] / (rho * dj)
		alpha /= rho
		rho = math.Sqrt(rho)
		sigmaOld := sigma
		sigma *= (1.0 + rho) / (rho * (theta + rho))
		if j < n-1 && (math.IsNaN(sigma) || math.IsInf(sigma, 0)) {
			return fatalf(ErrNumericBreakdown, op,
				"sigma is NaN/Inf: rho=%v, theta=%v, p[%d]=%v, pj=%v, d=%v, t=%v, prev sigma=%v",
				rho, theta, j, p[j], pj, dj, t, sigmaOld)
		}

		for r := j + 1; r < n; r++ {
			if !fixed[r] {
				lv := l.At(r, j)
				vp[r] -= p[j] * lv
				lOut.Set(r, j, lv+b*vp[r])
			}
		}
	}
	return nil
}
