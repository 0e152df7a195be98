// Package optimize implements an active-set quasi-Newton solver for
// minimizing a smooth objective subject to per-variable bound constraints.
//
// The method keeps an explicit working set of variables pinned to their
// bounds, searches along quasi-Newton directions for the free variables
// with a safeguarded polynomial line search, and maintains the Hessian
// approximation B = L*D*L' through rank-one Cholesky-factor modifications
// (Gill, Golub, Murray and Saunders, "Methods for Modifying Matrix
// Factorizations", 1974). Convergence testing releases variables from the
// working set via first- and second-order Lagrange multiplier estimates.
package optimize

import (
	"math"
)

// Problem is the function-evaluation contract a caller supplies.
// Objective may return +Inf to signal an infeasible or undefined region;
// the line search shrinks the step and retries instead of propagating it.
type Problem interface {
	// Objective evaluates the function to be minimized at x.
	Objective(x []float64) float64
	// Gradient evaluates the gradient of the objective at x.
	Gradient(x []float64) []float64
}

// HessianProvider is an optional capability of a Problem. When implemented,
// HessianRow returns row index of the Hessian at x, and the solver uses
// second-order Lagrange multiplier estimates when deciding whether a bound
// can be released. Without it, first-order estimates are used together with
// an anti-cycling safeguard.
type HessianProvider interface {
	HessianRow(x []float64, index int) []float64
}

// FuncProblem adapts plain function values to the Problem interface.
type FuncProblem struct {
	ObjectiveFn func(x []float64) float64
	GradientFn  func(x []float64) []float64
}

// Objective implements Problem.
func (p *FuncProblem) Objective(x []float64) float64 { return p.ObjectiveFn(x) }

// Gradient implements Problem.
func (p *FuncProblem) Gradient(x []float64) []float64 { return p.GradientFn(x) }

// WithHessian attaches a Hessian-row evaluator to a Problem, advertising
// the HessianProvider capability to the solver.
func WithHessian(p Problem, rowFn func(x []float64, index int) []float64) Problem {
	return &hessianProblem{Problem: p, rowFn: rowFn}
}

type hessianProblem struct {
	Problem
	rowFn func(x []float64, index int) []float64
}

func (h *hessianProblem) HessianRow(x []float64, index int) []float64 { return h.rowFn(x, index) }

// Config holds the solver tolerances and limits.
type Config struct {
	// MaxIterations caps the number of main-loop iterations of a single
	// Minimize call. A solve that exhausts the budget returns the last
	// iterate with Converged == false so the caller can resume.
	MaxIterations int
	// SufficientDecrease is the constant of the sufficient-decrease
	// (Armijo) condition of the line search.
	SufficientDecrease float64
	// Curvature is the constant of the curvature condition of the line
	// search, keeping the updated Hessian approximation positive definite.
	Curvature float64
	// DisplacementTol is the relative displacement tolerance used to
	// derive the minimum admissible step length.
	DisplacementTol float64
	// StepCap scales the global bound on the step length,
	// stpmax = StepCap * max(||g0||, n).
	StepCap float64
	// Debug enables per-iteration trace logging.
	Debug bool
}

// DefaultConfig returns the standard solver configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:      200,
		SufficientDecrease: 1.0e-4,
		Curvature:          0.9,
		DisplacementTol:    1.0e-6,
		StepCap:            100.0,
	}
}

// withDefaults fills zero-valued fields with their defaults.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.SufficientDecrease <= 0 {
		c.SufficientDecrease = d.SufficientDecrease
	}
	if c.Curvature <= 0 {
		c.Curvature = d.Curvature
	}
	if c.DisplacementTol <= 0 {
		c.DisplacementTol = d.DisplacementTol
	}
	if c.StepCap <= 0 {
		c.StepCap = d.StepCap
	}
	return c
}

// Result is the outcome of a solve.
type Result struct {
	// X is the solution when Converged, or the last iterate when the
	// iteration budget ran out.
	X []float64
	// F is the objective value at X.
	F float64
	// Converged reports whether a minimum was found. When false the
	// caller may resume by calling Minimize again starting from X.
	Converged bool
	// Iterations is the number of main-loop iterations consumed.
	Iterations int
}

// NoBound is the sentinel for an absent bound on one side of a variable.
func NoBound() float64 { return math.NaN() }

// unbounded reports whether a bound entry is the no-bound sentinel.
func unbounded(b float64) bool { return math.IsNaN(b) }
