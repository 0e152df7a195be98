package optimize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sphereAt(center ...float64) *FuncProblem {
	return &FuncProblem{
		ObjectiveFn: func(x []float64) float64 {
			f := 0.0
			for i, v := range x {
				d := v - center[i]
				f += d * d
			}
			return f
		},
		GradientFn: func(x []float64) []float64 {
			g := make([]float64, len(x))
			for i, v := range x {
				g[i] = 2.0 * (v - center[i])
			}
			return g
		},
	}
}

// startSearch prepares a solve state the way the driver does before its
// first line search: steepest descent direction from x0.
func startSearch(p Problem, x0, lower, upper []float64) *solveState {
	st := newSolveState(x0, lower, upper)
	st.f = p.Objective(st.x)
	copy(st.grad, p.Gradient(st.x))
	for i := range st.direct {
		st.direct[i] = -st.grad[i]
	}
	copy(st.oldX, st.x)
	return st
}

func TestLineSearchDescends(t *testing.T) {
	s := New(Config{}, nil)
	p := sphereAt(0, 0)
	st := startSearch(p, []float64{2, 1}, nil, nil)
	fold := st.f

	require.NoError(t, s.lineSearch(p, st, 100.0))

	assert.Less(t, st.f, fold, "accepted step must decrease the objective")
	// The quadratic interpolation lands exactly on the minimizer here.
	assert.InDelta(t, 0.0, st.f, 1e-12)
	assert.InDelta(t, 0.0, st.x[0], 1e-8)
	assert.InDelta(t, 0.0, st.x[1], 1e-8)
	assert.Empty(t, st.fixedIdx)
	assert.False(t, st.zeroStep)
}

func TestLineSearchZeroSlopeIsBenign(t *testing.T) {
	s := New(Config{}, nil)
	p := sphereAt(0, 0)
	st := startSearch(p, []float64{0, 0}, nil, nil)

	require.NoError(t, s.lineSearch(p, st, 100.0))

	assert.Equal(t, []float64{0, 0}, st.x, "stationary start must stay put")
	assert.Zero(t, st.f)
	assert.False(t, st.zeroStep)
}

func TestLineSearchAscentDirectionIsFatal(t *testing.T) {
	s := New(Config{}, nil)
	p := sphereAt(0, 0)
	st := startSearch(p, []float64{2, 1}, nil, nil)
	for i := range st.direct {
		st.direct[i] = -st.direct[i] // uphill
	}

	err := s.lineSearch(p, st, 100.0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAscentDirection)
}

func TestLineSearchFixesVariableAtFeasibilityBound(t *testing.T) {
	s := New(Config{}, nil)
	p := sphereAt(3, 0)
	upper := []float64{2, math.NaN()}
	st := startSearch(p, []float64{1, 0}, nil, upper)

	require.NoError(t, s.lineSearch(p, st, 100.0))

	assert.Equal(t, 2.0, st.x[0], "variable must land exactly on its bound")
	assert.InDelta(t, 0.0, st.x[1], 1e-12)
	assert.InDelta(t, 1.0, st.f, 1e-12)
	assert.True(t, st.isFixed[0])
	assert.Equal(t, []int{0}, st.fixedIdx)
	assert.True(t, math.IsNaN(st.nwsUpper[0]), "consumed bound must leave the working set")
	assert.False(t, st.zeroStep)
}

func TestLineSearchZeroFeasibleStep(t *testing.T) {
	s := New(Config{}, nil)
	p := sphereAt(3, 0)
	upper := []float64{2, math.NaN()}
	// Already on the bound with the direction pushing outward.
	st := startSearch(p, []float64{2, 0}, nil, upper)

	require.NoError(t, s.lineSearch(p, st, 100.0))

	assert.True(t, st.zeroStep, "no feasible displacement must be reported")
	assert.True(t, st.isFixed[0])
	assert.Equal(t, 2.0, st.x[0])
}

func TestLineSearchShrinksPastInfiniteObjective(t *testing.T) {
	s := New(Config{}, nil)
	p := &FuncProblem{
		ObjectiveFn: func(x []float64) float64 {
			if x[0] > 1.0 {
				return math.Inf(1)
			}
			d := x[0] - 2.0
			return d * d
		},
		GradientFn: func(x []float64) []float64 {
			return []float64{2.0 * (x[0] - 2.0)}
		},
	}
	st := startSearch(p, []float64{0}, nil, nil)

	require.NoError(t, s.lineSearch(p, st, 100.0))

	assert.Equal(t, 1.0, st.x[0], "step must shrink back into the finite region")
	assert.Equal(t, 1.0, st.f)
}
