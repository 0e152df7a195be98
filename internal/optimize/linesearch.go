package optimize

import (
	"math"

	"go.uber.org/zap"
)

// lineSearch finds a point x = xold + lambda*direct at which the objective
// has decreased sufficiently, the curvature condition preserving positive
// definiteness of the Hessian approximation holds, and no bound constraint
// is violated. Safeguarded polynomial interpolation (quadratic on the first
// backtrack, cubic afterwards) follows Dennis and Schnabel, "Numerical
// Methods for Unconstrained Optimization and Nonlinear Equations".
//
// On entry st.oldX holds the current point, st.grad its gradient, st.direct
// the search direction and st.f the current objective value. On return st.x
// holds the accepted point and st.f its objective value. Free variables
// whose feasible step is zero are fixed to their bound immediately and
// st.zeroStep is set; a step that exactly reaches the feasibility bound
// fixes the variable that produced it. A numerically zero slope returns
// st.x == st.oldX unchanged, signalling the driver to attempt releasing
// working-set bounds.
func (s *Solver) lineSearch(p Problem, st *solveState, stpmax float64) error {
	const op = "lineSearch"

	n := st.n
	alf, beta := s.cfg.SufficientDecrease, s.cfg.Curvature
	xold, x := st.oldX, st.x
	gradient, direct := st.grad, st.direct
	isFixed := st.isFixed

	fixedOne := -1       // variable that will hit its bound at full step
	alpha := math.Inf(1) // feasibility bound on lambda
	fold := st.f

	// Scale the step so that ||direct|| <= stpmax.
	sum := 0.0
	for i := 0; i < n; i++ {
		if !isFixed[i] {
			sum += direct[i] * direct[i]
		}
	}
	sum = math.Sqrt(sum)

	maxalam := 1.0
	if sum > stpmax {
		for i := 0; i < n; i++ {
			if !isFixed[i] {
				direct[i] *= stpmax / sum
			}
		}
	} else {
		maxalam = stpmax / sum
	}

	// Initial rate of decrease g'*d.
	st.slope = 0.0
	for i := 0; i < n; i++ {
		x[i] = xold[i]
		if !isFixed[i] {
			st.slope += gradient[i] * direct[i]
		}
	}

	if s.cfg.Debug {
		s.logger.Debug("line search start",
			zap.Float64("f", fold), zap.Float64("slope", st.slope),
			zap.Float64("stpmax", stpmax))
	}

	// Gradient and direction orthogonal: stationary under the current
	// fixations, the driver should try releasing variables.
	if math.Abs(st.slope) <= s.zero {
		return nil
	}
	if st.slope > s.zero {
		return fatalf(ErrAscentDirection, op,
			"g'*d = %v > 0, direction is not a descent direction", st.slope)
	}

	// Minimum admissible lambda from the relative displacement tolerance.
	test := 0.0
	for i := 0; i < n; i++ {
		if !isFixed[i] {
			temp := math.Abs(direct[i]) / math.Max(math.Abs(x[i]), 1.0)
			if temp > test {
				test = temp
			}
		}
	}
	if test <= s.zero {
		// Zero direction for every free variable.
		return nil
	}
	alamin := s.cfg.DisplacementTol / test

	// Feasible step to the nearest non-working-set bound of each free
	// variable. A zero feasible step pins that variable right away.
	for i := 0; i < n; i++ {
		if isFixed[i] {
			continue
		}
		if direct[i] < -s.epsilon && !unbounded(st.nwsLower[i]) {
			alpi := (st.nwsLower[i] - xold[i]) / direct[i]
			if alpi <= s.zero {
				if s.cfg.Debug {
					s.logger.Debug("fixing variable at lower bound",
						zap.Int("index", i), zap.Float64("bound", st.nwsLower[i]))
				}
				x[i] = st.nwsLower[i]
				isFixed[i] = true
				alpha = 0.0
				st.nwsLower[i] = NoBound()
				st.fixedIdx = append(st.fixedIdx, i)
			} else if alpha > alpi {
				alpha = alpi
				fixedOne = i
			}
		} else if direct[i] > s.epsilon && !unbounded(st.nwsUpper[i]) {
			alpi := (st.nwsUpper[i] - xold[i]) / direct[i]
			if alpi <= s.zero {
				if s.cfg.Debug {
					s.logger.Debug("fixing variable at upper bound",
						zap.Int("index", i), zap.Float64("bound", st.nwsUpper[i]))
				}
				x[i] = st.nwsUpper[i]
				isFixed[i] = true
				alpha = 0.0
				st.nwsUpper[i] = NoBound()
				st.fixedIdx = append(st.fixedIdx, i)
			} else if alpha > alpi {
				alpha = alpi
				fixedOne = i
			}
		}
	}

	if alpha <= s.zero {
		st.zeroStep = true
		return nil
	}

	// fixTo pins the variable that defined the feasibility bound to the
	// bound it hit, retiring that bound into the working set.
	fixTo := func(idx int) {
		if direct[idx] > 0 {
			x[idx] = st.nwsUpper[idx]
			st.nwsUpper[idx] = NoBound()
		} else {
			x[idx] = st.nwsLower[idx]
			st.nwsLower[idx] = NoBound()
		}
		if s.cfg.Debug {
			s.logger.Debug("fixing variable at feasibility bound",
				zap.Int("index", idx), zap.Float64("bound", x[idx]))
		}
		isFixed[idx] = true
		st.fixedIdx = append(st.fixedIdx, idx)
	}

	trial := func(alam float64) {
		for i := 0; i < n; i++ {
			if !isFixed[i] {
				x[i] = xold[i] + alam*direct[i]
			}
		}
	}

	freeSlope := func(g []float64) float64 {
		sl := 0.0
		for i := 0; i < n; i++ {
			if !isFixed[i] {
				sl += g[i] * direct[i]
			}
		}
		return sl
	}

	// Always try the full feasible newton step first.
	alam := math.Min(alpha, 1.0)

	initF := fold
	hi, lo := alam, alam
	fhi, flo := st.f, st.f
	newSlope := 0.0
	alam2, tmplam := 0.0, 0.0
	bracketed := false

	for k := 0; !bracketed; k++ {
		for i := 0; i < n; i++ {
			if isFixed[i] {
				continue
			}
			x[i] = xold[i] + alam*direct[i]
			// Clip rounding error back into the box.
			if !unbounded(st.nwsLower[i]) && x[i] < st.nwsLower[i] {
				x[i] = st.nwsLower[i]
			} else if !unbounded(st.nwsUpper[i]) && x[i] > st.nwsUpper[i] {
				x[i] = st.nwsUpper[i]
			}
		}

		st.f = p.Objective(x)

		// An infinite objective marks an infeasible region: shrink and
		// retry instead of propagating it.
		for math.IsInf(st.f, 1) {
			alam *= 0.5
			if alam <= s.epsilon {
				if s.cfg.Debug {
					s.logger.Debug("objective stays infinite at minimal step")
				}
				return nil
			}
			trial(alam)
			st.f = p.Objective(x)
			initF = math.Inf(1)
		}

		if st.f <= fold+alf*alam*st.slope {
			// Sufficient decrease holds; test curvature.
			newSlope = freeSlope(p.Gradient(x))
			if newSlope >= beta*st.slope {
				if fixedOne != -1 && alam >= alpha {
					fixTo(fixedOne)
				}
				return nil
			}

			if k == 0 {
				// Extrapolate: double lambda while sufficient decrease
				// still holds, bracketing the curvature condition.
				upper := math.Min(alpha, maxalam)
				lo, flo = alam, st.f
				for alam < upper && st.f <= fold+alf*alam*st.slope {
					lo, flo = alam, st.f
					alam *= 2.0
					if alam >= upper {
						alam = upper
					}
					trial(alam)
					st.f = p.Objective(x)
					newSlope = freeSlope(p.Gradient(x))
					if newSlope >= beta*st.slope {
						if fixedOne != -1 && alam >= alpha {
							fixTo(fixedOne)
						}
						return nil
					}
				}
				hi, fhi = alam, st.f
				bracketed = true
				continue
			}

			// Previous lambda failed sufficient decrease, this one holds.
			hi, lo, flo = alam2, alam, st.f
			bracketed = true
			continue
		}

		if alam < alamin {
			// No admissible lambda remains.
			if initF < fold {
				// Some trial improved on the initial value: still take
				// the full feasible step.
				alam = math.Min(alpha, 1.0)
				trial(alam)
				st.f = p.Objective(x)
				if fixedOne != -1 && alam >= alpha {
					fixTo(fixedOne)
				}
			} else {
				copy(x, xold)
				st.f = fold
				if s.cfg.Debug {
					s.logger.Debug("no feasible lambda found")
				}
			}
			return nil
		}

		// Backtrack: quadratic interpolation on the first failure, cubic
		// through the two most recent trials afterwards.
		if k == 0 {
			if !math.IsInf(initF, 1) {
				initF = st.f
			}
			tmplam = -0.5 * alam * st.slope / ((st.f-fold)/alam - st.slope)
		} else {
			rhs1 := st.f - fold - alam*st.slope
			rhs2 := fhi - fold - alam2*st.slope
			a := (rhs1/(alam*alam) - rhs2/(alam2*alam2)) / (alam - alam2)
			b := (-alam2*rhs1/(alam*alam) + alam*rhs2/(alam2*alam2)) / (alam - alam2)
			if a == 0.0 {
				tmplam = -st.slope / (2.0 * b)
			} else {
				disc := b*b - 3.0*a*st.slope
				if disc < 0.0 {
					disc = 0.0
				}
				tmplam = (-b + math.Sqrt(disc)) / (3.0 * a)
			}
			if tmplam > 0.5*alam {
				tmplam = 0.5 * alam
			}
		}
		alam2 = alam
		fhi = st.f
		alam = math.Max(tmplam, 0.1*alam)

		if alam > alpha {
			return fatalf(ErrInfeasibleStep, op,
				"lambda=%v exceeds feasibility bound alpha=%v (f=%v, fold=%v, slope=%v)",
				alam, alpha, st.f, fold, st.slope)
		}
	}

	// Refine lambda between lo and hi for the curvature condition; if it
	// cannot be satisfied, settle for lo where sufficient decrease holds.
	ldiff := hi - lo
	for newSlope < beta*st.slope && ldiff >= alamin {
		lincr := -0.5 * newSlope * ldiff * ldiff / (fhi - flo - newSlope*ldiff)
		if lincr < 0.2*ldiff {
			lincr = 0.2 * ldiff
		}
		alam = lo + lincr
		trial(alam)
		st.f = p.Objective(x)

		if st.f > fold+alf*alam*st.slope {
			// Sufficient decrease fails: shrink the upper end.
			ldiff = lincr
			fhi = st.f
		} else {
			newSlope = freeSlope(p.Gradient(x))
			if newSlope < beta*st.slope {
				// Curvature fails: raise the lower end.
				lo = alam
				ldiff -= lincr
				flo = st.f
			}
		}
	}

	if newSlope < beta*st.slope {
		if s.cfg.Debug {
			s.logger.Debug("curvature condition unsatisfiable, keeping sufficient decrease",
				zap.Float64("lambda", lo))
		}
		alam = lo
		trial(alam)
		st.f = flo
	}

	if fixedOne != -1 && alam >= alpha {
		fixTo(fixedOne)
	}
	return nil
}
