package optimize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rosenbrock() *FuncProblem {
	return &FuncProblem{
		ObjectiveFn: func(x []float64) float64 {
			f := 0.0
			for i := 0; i < len(x)-1; i++ {
				t1 := x[i+1] - x[i]*x[i]
				t2 := 1.0 - x[i]
				f += 100.0*t1*t1 + t2*t2
			}
			return f
		},
		GradientFn: func(x []float64) []float64 {
			n := len(x)
			g := make([]float64, n)
			for i := 0; i < n-1; i++ {
				t1 := x[i+1] - x[i]*x[i]
				g[i] += -400.0*x[i]*t1 - 2.0*(1.0-x[i])
				g[i+1] += 200.0 * t1
			}
			return g
		},
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	s := New(Config{}, nil)

	assert.Equal(t, 200, s.cfg.MaxIterations)
	assert.Equal(t, 1.0e-4, s.cfg.SufficientDecrease)
	assert.Equal(t, 0.9, s.cfg.Curvature)
	assert.Equal(t, 1.0e-6, s.cfg.DisplacementTol)
	assert.Equal(t, 100.0, s.cfg.StepCap)

	assert.Positive(t, s.epsilon)
	assert.Equal(t, 1.0, 1.0+s.epsilon/2.0, "epsilon must be the smallest representable increment")
	assert.Equal(t, math.Sqrt(s.epsilon), s.zero)
}

func TestMinimizeUnconstrainedQuadratic(t *testing.T) {
	p := &FuncProblem{
		ObjectiveFn: func(x []float64) float64 {
			return x[0]*x[0] + 2.0*x[1]*x[1]
		},
		GradientFn: func(x []float64) []float64 {
			return []float64{2.0 * x[0], 4.0 * x[1]}
		},
	}
	s := New(Config{}, nil)

	res, err := s.Minimize(p, []float64{3, -2}, nil, nil)
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.InDelta(t, 0.0, res.X[0], 1e-4)
	assert.InDelta(t, 0.0, res.X[1], 1e-4)
	assert.InDelta(t, 0.0, res.F, 1e-6)
	assert.Less(t, res.Iterations, 50, "a convex quadratic must converge quickly")
}

func TestMinimizeBoundBecomesActive(t *testing.T) {
	// f = (x-3)^2 + (y-1)^2 with x in [0, 2]: the unconstrained minimum
	// lies outside the box, so x finishes pinned to its upper bound.
	p := sphereAt(3, 1)
	lower := []float64{0, math.NaN()}
	upper := []float64{2, math.NaN()}
	s := New(Config{}, nil)

	res, err := s.Minimize(p, []float64{1, 1}, lower, upper)
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.Equal(t, 2.0, res.X[0], "active variable must sit exactly on its bound")
	assert.InDelta(t, 1.0, res.X[1], 1e-8)
	assert.InDelta(t, 1.0, res.F, 1e-10)
}

func TestMinimizeReleasesTransientBound(t *testing.T) {
	// The first step overshoots onto x's upper bound, but the minimum at
	// (0.9, 1) is interior: the bound must be released again.
	newProblem := func() Problem { return sphereAt(0.9, 1) }
	lower := []float64{-5, math.NaN()}
	upper := []float64{1, math.NaN()}
	x0 := []float64{0.2, 9}

	run := func(t *testing.T, p Problem) {
		s := New(Config{}, nil)
		res, err := s.Minimize(p, x0, lower, upper)
		require.NoError(t, err)

		assert.True(t, res.Converged)
		assert.InDelta(t, 0.9, res.X[0], 1e-6, "released variable must reach the interior minimum")
		assert.InDelta(t, 1.0, res.X[1], 1e-6)
		assert.InDelta(t, 0.0, res.F, 1e-10)
	}

	t.Run("gradient only", func(t *testing.T) {
		run(t, newProblem())
	})
	t.Run("with hessian", func(t *testing.T) {
		p := WithHessian(newProblem(), func(x []float64, index int) []float64 {
			row := make([]float64, len(x))
			row[index] = 2.0
			return row
		})
		run(t, p)
	})
}

func TestMinimizeIterationBudgetAndResume(t *testing.T) {
	p := rosenbrock()
	x0 := []float64{-1.2, 1}
	f0 := p.Objective(x0)

	s := New(Config{MaxIterations: 2}, nil)
	res, err := s.Minimize(p, x0, nil, nil)
	require.NoError(t, err)

	assert.False(t, res.Converged)
	assert.Equal(t, 2, res.Iterations)
	assert.LessOrEqual(t, res.F, f0, "partial solve must not increase the objective")

	// Resuming from the returned iterate finishes the solve.
	s = New(Config{MaxIterations: 500}, nil)
	res, err = s.Minimize(p, res.X, nil, nil)
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.InDelta(t, 1.0, res.X[0], 1e-4)
	assert.InDelta(t, 1.0, res.X[1], 1e-4)
	assert.InDelta(t, 0.0, res.F, 1e-6)
}

func TestMinimizeMonotoneAcrossResumes(t *testing.T) {
	p := rosenbrock()
	x := []float64{-1.2, 1}
	prev := p.Objective(x)

	s := New(Config{MaxIterations: 1}, nil)
	for i := 0; i < 10; i++ {
		res, err := s.Minimize(p, x, nil, nil)
		require.NoError(t, err)
		assert.LessOrEqual(t, res.F, prev, "objective must never increase across resumes")
		prev = res.F
		x = res.X
	}
}

func TestMinimizeValidation(t *testing.T) {
	p := sphereAt(0, 0)
	s := New(Config{}, nil)

	cases := []struct {
		name         string
		x0           []float64
		lower, upper []float64
	}{
		{name: "empty x0"},
		{name: "lower length mismatch", x0: []float64{1, 1}, lower: []float64{0}},
		{name: "upper length mismatch", x0: []float64{1, 1}, upper: []float64{2}},
		{name: "empty box", x0: []float64{1, 1}, lower: []float64{3, math.NaN()}, upper: []float64{2, math.NaN()}},
		{name: "x0 on lower bound", x0: []float64{0, 1}, lower: []float64{0, math.NaN()}},
		{name: "x0 on upper bound", x0: []float64{2, 1}, upper: []float64{2, math.NaN()}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := s.Minimize(p, tc.x0, tc.lower, tc.upper)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestMinimizeDoesNotShareStateBetweenCalls(t *testing.T) {
	// One Solver, two interleaved problems: results must match the
	// single-use case because all per-solve state is local.
	s := New(Config{}, nil)

	resA, err := s.Minimize(sphereAt(4, -4), []float64{0, 0}, nil, nil)
	require.NoError(t, err)
	resB, err := s.Minimize(sphereAt(-1, 1), []float64{0, 0}, nil, nil)
	require.NoError(t, err)

	assert.InDelta(t, 4.0, resA.X[0], 1e-6)
	assert.InDelta(t, -4.0, resA.X[1], 1e-6)
	assert.InDelta(t, -1.0, resB.X[0], 1e-6)
	assert.InDelta(t, 1.0, resB.X[1], 1e-6)
}

func TestWithHessianAdvertisesCapability(t *testing.T) {
	p := WithHessian(sphereAt(0), func(x []float64, index int) []float64 {
		return []float64{2.0}
	})
	hp, ok := p.(HessianProvider)
	require.True(t, ok)
	assert.Equal(t, []float64{2.0}, hp.HessianRow([]float64{1}, 0))
}

func TestEqualSets(t *testing.T) {
	assert.False(t, equalSets(nil, nil), "no recorded set compares unequal")
	assert.False(t, equalSets([]int{1}, nil))
	assert.False(t, equalSets([]int{1, 2}, []int{1, 3}))
	assert.True(t, equalSets([]int{2, 1}, []int{1, 2}), "order must not matter")
	assert.True(t, equalSets([]int{}, []int{}))
}
