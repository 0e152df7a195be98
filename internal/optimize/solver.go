package optimize

import (
	"math"
	"slices"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// Solver runs the active-set method with BFGS updates. A Solver holds only
// configuration and derived floating-point thresholds; every Minimize call
// owns its state exclusively, so a single Solver may serve concurrent
// solves.
type Solver struct {
	cfg     Config
	epsilon float64 // machine precision
	zero    float64 // sqrt(epsilon), the numeric zero threshold
	logger  *zap.Logger
}

// New creates a Solver with the given configuration. Zero-valued fields of
// cfg take their defaults. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger) *Solver {
	if logger == nil {
		logger = zap.NewNop()
	}
	epsilon := 1.0
	for 1.0+epsilon > 1.0 {
		epsilon /= 2.0
	}
	epsilon *= 2.0
	return &Solver{
		cfg:     cfg.withDefaults(),
		epsilon: epsilon,
		zero:    math.Sqrt(epsilon),
		logger:  logger.Named("optimize"),
	}
}

// solveState holds everything one solve owns: the iterate, gradients,
// direction, active-set bookkeeping and the factorization with its scratch
// buffers. All storage is sized once here and reused across iterations.
type solveState struct {
	n int

	x, oldX       []float64
	grad, oldGrad []float64
	deltaX        []float64
	deltaGrad     []float64
	direct        []float64

	isFixed  []bool
	fixedIdx []int // insertion-ordered indices of fixed variables

	// Immutable copies of the box; NaN marks an absent bound.
	lower, upper []float64
	// Working-set bounds: an entry turns NaN once the variable sits on it.
	nwsLower, nwsUpper []float64

	// B ~ L*D*L' with L unit lower triangular and D diagonal, plus the
	// scratch pair the rank-one updater writes into, the L*D product for
	// the direction solve and small vector scratch.
	l, d               *mat.Dense
	lScratch, dScratch *mat.Dense
	ld                 *mat.Dense
	b, y, vp, p        []float64

	f        float64
	slope    float64 // g'*d of the last line search
	zeroStep bool
}

func newSolveState(x0, lower, upper []float64) *solveState {
	n := len(x0)
	st := &solveState{
		n:         n,
		x:         slices.Clone(x0),
		oldX:      make([]float64, n),
		grad:      make([]float64, n),
		oldGrad:   make([]float64, n),
		deltaX:    make([]float64, n),
		deltaGrad: make([]float64, n),
		direct:    make([]float64, n),
		isFixed:   make([]bool, n),
		lower:     make([]float64, n),
		upper:     make([]float64, n),
		nwsLower:  make([]float64, n),
		nwsUpper:  make([]float64, n),
		l:         mat.NewDense(n, n, nil),
		d:         mat.NewDense(n, n, nil),
		lScratch:  mat.NewDense(n, n, nil),
		dScratch:  mat.NewDense(n, n, nil),
		ld:        mat.NewDense(n, n, nil),
		b:         make([]float64, n),
		y:         make([]float64, n),
		vp:        make([]float64, n),
		p:         make([]float64, n),
	}
	for i := 0; i < n; i++ {
		if lower != nil {
			st.lower[i] = lower[i]
		} else {
			st.lower[i] = NoBound()
		}
		if upper != nil {
			st.upper[i] = upper[i]
		} else {
			st.upper[i] = NoBound()
		}
		st.nwsLower[i] = st.lower[i]
		st.nwsUpper[i] = st.upper[i]
		st.l.Set(i, i, 1.0)
		st.d.Set(i, i, 1.0)
	}
	return st
}

// validate rejects malformed requests before any evaluator is called.
func (s *Solver) validate(x0, lower, upper []float64) *Error {
	const op = "Minimize"
	n := len(x0)
	if n == 0 {
		return fatalf(ErrInvalidArgument, op, "empty starting point")
	}
	if lower != nil && len(lower) != n {
		return fatalf(ErrInvalidArgument, op, "lower bounds have length %d, want %d", len(lower), n)
	}
	if upper != nil && len(upper) != n {
		return fatalf(ErrInvalidArgument, op, "upper bounds have length %d, want %d", len(upper), n)
	}
	for i := 0; i < n; i++ {
		var lo, up float64 = NoBound(), NoBound()
		if lower != nil {
			lo = lower[i]
		}
		if upper != nil {
			up = upper[i]
		}
		if !unbounded(lo) && !unbounded(up) && lo > up {
			return fatalf(ErrInvalidArgument, op, "bounds at %d are empty: [%v, %v]", i, lo, up)
		}
		// The starting point must be strictly inside the box: variables
		// enter the working set only through the line search.
		if !unbounded(lo) && x0[i] <= lo {
			return fatalf(ErrInvalidArgument, op, "x0[%d]=%v is not strictly above lower bound %v", i, x0[i], lo)
		}
		if !unbounded(up) && x0[i] >= up {
			return fatalf(ErrInvalidArgument, op, "x0[%d]=%v is not strictly below upper bound %v", i, x0[i], up)
		}
	}
	return nil
}

// Minimize finds a local minimizer of p inside the box [lower, upper]
// starting from x0. A nil bound slice, or a NaN entry, means unbounded on
// that side. When the iteration budget runs out the last iterate is
// returned with Converged == false and a nil error; the caller may resume
// by calling Minimize again from Result.X. Fatal defects return a non-nil
// *Error.
func (s *Solver) Minimize(p Problem, x0, lower, upper []float64) (*Result, error) {
	const op = "Minimize"

	if err := s.validate(x0, lower, upper); err != nil {
		return nil, err
	}

	n := len(x0)
	st := newSolveState(x0, lower, upper)
	hess, _ := p.(HessianProvider)

	st.f = p.Objective(st.x)
	copy(st.grad, p.Gradient(st.x))

	sum := 0.0
	for i := 0; i < n; i++ {
		st.direct[i] = -st.grad[i]
		sum += st.grad[i] * st.grad[i]
	}
	stpmax := s.cfg.StepCap * math.Max(math.Sqrt(sum), float64(n))

	// Release-candidate sets of the two most recent convergence attempts,
	// for the no-Hessian anti-cycling safeguard.
	var toFree, oldToFree []int

	for step := 0; step < s.cfg.MaxIterations; step++ {
		if s.cfg.Debug {
			s.logger.Debug("iteration", zap.Int("step", step), zap.Float64("f", st.f))
		}

		copy(st.oldX, st.x)
		copy(st.oldGrad, st.grad)
		st.zeroStep = false

		if err := s.lineSearch(p, st, stpmax); err != nil {
			return nil, err
		}

		if st.zeroStep {
			// The feasible step was zero: strip the rows and columns of
			// every working-set variable from the factors and retry this
			// iteration without consuming a budget slot.
			for _, idx := range st.fixedIdx {
				for j := 0; j < n; j++ {
					st.l.Set(idx, j, 0.0)
					st.l.Set(j, idx, 0.0)
				}
				st.d.Set(idx, idx, 0.0)
			}
			copy(st.grad, p.Gradient(st.x))
			step--
		} else {
			// Convergence on the displacement.
			finish := false
			test := 0.0
			for h := 0; h < n; h++ {
				st.deltaX[h] = st.x[h] - st.oldX[h]
				tmp := math.Abs(st.deltaX[h]) / math.Max(math.Abs(st.x[h]), 1.0)
				if tmp > test {
					test = tmp
				}
			}
			if test < s.zero {
				finish = true
			}

			// Convergence on the gradient. The projected gradient cannot
			// be used directly because of newly bounded variables.
			copy(st.grad, p.Gradient(st.x))
			test = 0.0
			var denom, dxSq, dgSq, newlyBounded float64
			for g := 0; g < n; g++ {
				if !st.isFixed[g] {
					st.deltaGrad[g] = st.grad[g] - st.oldGrad[g]
					denom += st.deltaX[g] * st.deltaGrad[g]
					dxSq += st.deltaX[g] * st.deltaX[g]
					dgSq += st.deltaGrad[g] * st.deltaGrad[g]
				} else {
					newlyBounded += st.deltaX[g] * (st.grad[g] - st.oldGrad[g])
				}
				tmp := math.Abs(st.grad[g]) * math.Max(math.Abs(st.direct[g]), 1.0) /
					math.Max(math.Abs(st.f), 1.0)
				if tmp > test {
					test = tmp
				}
			}
			if test < s.zero {
				finish = true
			}

			// dg'*dx ~ 0: curvature pairing exhausted.
			if math.Abs(denom+newlyBounded) < s.zero {
				finish = true
			}

			isUpdate := true
			if finish {
				if toFree != nil {
					oldToFree = slices.Clone(toFree)
				}
				toFree = make([]int, 0, len(st.fixedIdx))

				for m := len(st.fixedIdx) - 1; m >= 0; m-- {
					index := st.fixedIdx[m]

					var hessRow []float64
					if hess != nil {
						hessRow = hess.HessianRow(st.x, index)
					}
					deltaL := 0.0
					if hessRow != nil {
						for mm := 0; mm < len(hessRow); mm++ {
							if !st.isFixed[mm] {
								deltaL += hessRow[mm] * st.direct[mm]
							}
						}
					}

					// First-order Lagrange multiplier estimate from the
					// raw gradient sign at the bound the variable sits on.
					var l1 float64
					switch {
					case !unbounded(st.upper[index]) && st.x[index] >= st.upper[index]:
						l1 = -st.grad[index]
					case !unbounded(st.lower[index]) && st.x[index] <= st.lower[index]:
						l1 = st.grad[index]
					default:
						return nil, fatalf(ErrBoundState, op,
							"x[%d]=%v recorded as fixed but not on a bound [%v, %v]",
							index, st.x[index], st.lower[index], st.upper[index])
					}
					l2 := l1 + deltaL

					if s.cfg.Debug {
						s.logger.Debug("release test", zap.Int("index", index),
							zap.Float64("l1", l1), zap.Float64("l2", l2))
					}

					// Both estimates must agree in sign and be close
					// before the multiplier is trusted; a negative value
					// means the bound is not binding at the optimum.
					isConverge := 2.0*math.Abs(deltaL) < math.Min(math.Abs(l1), math.Abs(l2))
					if l1*l2 > 0.0 && isConverge && l2 < 0.0 {
						toFree = append(toFree, index)
						st.fixedIdx = append(st.fixedIdx[:m], st.fixedIdx[m+1:]...)
						finish = false
					}

					// Without a Hessian the first-order estimate can
					// zigzag; stop when the same release set repeats.
					if hessRow == nil && equalSets(toFree, oldToFree) {
						finish = true
					}
				}

				if finish {
					st.f = p.Objective(st.x)
					if s.cfg.Debug {
						s.logger.Debug("minimum found", zap.Float64("f", st.f), zap.Int("iterations", step+1))
					}
					return &Result{
						X:          slices.Clone(st.x),
						F:          st.f,
						Converged:  true,
						Iterations: step + 1,
					}, nil
				}

				// Free the released variables: reinstate the bound they
				// sat on and reset their factor entries to identity.
				for _, freeIdx := range toFree {
					st.isFixed[freeIdx] = false
					if !unbounded(st.lower[freeIdx]) && st.x[freeIdx] <= st.lower[freeIdx] {
						st.nwsLower[freeIdx] = st.lower[freeIdx]
					} else {
						st.nwsUpper[freeIdx] = st.upper[freeIdx]
					}
					if s.cfg.Debug {
						s.logger.Debug("releasing variable", zap.Int("index", freeIdx))
					}
					st.l.Set(freeIdx, freeIdx, 1.0)
					st.d.Set(freeIdx, freeIdx, 1.0)
					isUpdate = false
				}
			}

			// dg'*dx must be sufficiently positive relative to
			// ||dg||*||dx|| or the update could make B indefinite.
			if denom < math.Max(s.zero*math.Sqrt(dxSq)*math.Sqrt(dgSq), s.zero) {
				isUpdate = false
			}

			if isUpdate {
				coeff := 1.0 / denom // 1/(dg'*dx)
				if err := s.updateCholesky(st.l, st.d, st.deltaGrad, coeff, st.isFixed,
					st.lScratch, st.dScratch, st.vp, st.p); err != nil {
					return nil, err
				}
				coeff = 1.0 / st.slope // 1/(g'*d) of the previous step
				if err := s.updateCholesky(st.lScratch, st.dScratch, st.oldGrad, coeff, st.isFixed,
					st.l, st.d, st.vp, st.p); err != nil {
					return nil, err
				}
			}
		}

		// New direction from two triangular solves:
		// (L*D)*y = -g, then L'*direct = y, skipping fixed rows.
		st.ld.Zero()
		for k := 0; k < n; k++ {
			if !st.isFixed[k] {
				st.b[k] = -st.grad[k]
			} else {
				st.b[k] = 0.0
			}
			for j := k; j < n; j++ {
				if !st.isFixed[j] && !st.isFixed[k] {
					st.ld.Set(j, k, st.l.At(j, k)*st.d.At(k, k))
				}
			}
		}

		st.y = solveTriangle(st.ld, st.b, true, st.isFixed, st.y)
		for m := 0; m < n; m++ {
			if math.IsNaN(st.y[m]) {
				return nil, fatalf(ErrNumericBreakdown, op,
					"(L*D)y[%d] is NaN: -g=%v, fixed=%v, diag=%v",
					m, st.b[m], st.isFixed[m], st.d.At(m, m))
			}
		}

		st.direct = solveTriangle(st.l, st.y, false, st.isFixed, st.direct)
		for m := 0; m < n; m++ {
			if math.IsNaN(st.direct[m]) {
				return nil, fatalf(ErrNumericBreakdown, op, "direction[%d] is NaN", m)
			}
		}
	}

	if s.cfg.Debug {
		s.logger.Debug("iteration budget exhausted", zap.Int("max", s.cfg.MaxIterations))
	}
	return &Result{
		X:          slices.Clone(st.x),
		F:          st.f,
		Converged:  false,
		Iterations: s.cfg.MaxIterations,
	}, nil
}

// equalSets reports whether a and b hold the same indices, ignoring order.
// Either side being nil (no set recorded yet) compares unequal.
func equalSets(a, b []int) bool {
	if a == nil || b == nil || len(a) != len(b) {
		return false
	}
	sa, sb := slices.Clone(a), slices.Clone(b)
	slices.Sort(sa)
	slices.Sort(sb)
	return slices.Equal(sa, sb)
}
