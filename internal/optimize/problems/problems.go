// Package problems provides named benchmark objectives implementing the
// optimize.Problem contract, used by the solve service and the test suite.
package problems

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/kxash/weka/internal/optimize"
)

// Quadratic is f(x) = ½·x'Ax − b'x for a symmetric positive definite A.
// Its gradient is Ax − b and its Hessian is A, so it advertises the
// HessianProvider capability.
type Quadratic struct {
	A *mat.SymDense
	B []float64
}

// NewQuadratic builds a Quadratic from a row-major symmetric matrix.
func NewQuadratic(n int, a, b []float64) *Quadratic {
	return &Quadratic{A: mat.NewSymDense(n, a), B: b}
}

func (q *Quadratic) Objective(x []float64) float64 {
	n := q.A.SymmetricDim()
	f := 0.0
	for i := 0; i < n; i++ {
		row := 0.0
		for j := 0; j < n; j++ {
			row += q.A.At(i, j) * x[j]
		}
		f += 0.5 * x[i] * row
		if q.B != nil {
			f -= q.B[i] * x[i]
		}
	}
	return f
}

func (q *Quadratic) Gradient(x []float64) []float64 {
	n := q.A.SymmetricDim()
	g := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			g[i] += q.A.At(i, j) * x[j]
		}
		if q.B != nil {
			g[i] -= q.B[i]
		}
	}
	return g
}

func (q *Quadratic) HessianRow(x []float64, index int) []float64 {
	n := q.A.SymmetricDim()
	row := make([]float64, n)
	for j := 0; j < n; j++ {
		row[j] = q.A.At(index, j)
	}
	return row
}

// Sphere is the shifted sphere Σ(xᵢ−cᵢ)², with minimum at the center c.
// The Hessian is constant (2I) and always available.
type Sphere struct {
	Center []float64
}

func (s *Sphere) Objective(x []float64) float64 {
	f := 0.0
	for i, v := range x {
		d := v - s.Center[i]
		f += d * d
	}
	return f
}

func (s *Sphere) Gradient(x []float64) []float64 {
	g := make([]float64, len(x))
	for i, v := range x {
		g[i] = 2.0 * (v - s.Center[i])
	}
	return g
}

func (s *Sphere) HessianRow(x []float64, index int) []float64 {
	row := make([]float64, len(x))
	row[index] = 2.0
	return row
}

// Rosenbrock is the n-dimensional Rosenbrock function, gradient only.
type Rosenbrock struct{}

func (Rosenbrock) Objective(x []float64) float64 {
	f := 0.0
	for i := 0; i < len(x)-1; i++ {
		t1 := x[i+1] - x[i]*x[i]
		t2 := 1.0 - x[i]
		f += 100.0*t1*t1 + t2*t2
	}
	return f
}

func (Rosenbrock) Gradient(x []float64) []float64 {
	n := len(x)
	g := make([]float64, n)
	for i := 0; i < n-1; i++ {
		t1 := x[i+1] - x[i]*x[i]
		g[i] += -400.0*x[i]*t1 - 2.0*(1.0-x[i])
		g[i+1] += 200.0 * t1
	}
	return g
}

// builders construct a fresh problem instance for a given dimension.
var builders = map[string]func(n int) (optimize.Problem, error){
	"sphere": func(n int) (optimize.Problem, error) {
		center := make([]float64, n)
		return &Sphere{Center: center}, nil
	},
	"rosenbrock": func(n int) (optimize.Problem, error) {
		if n < 2 {
			return nil, fmt.Errorf("rosenbrock needs at least 2 variables, got %d", n)
		}
		return Rosenbrock{}, nil
	},
	"quadratic-diag": func(n int) (optimize.Problem, error) {
		// Diagonal A with entries 1..n, minimum at the origin.
		a := make([]float64, n*n)
		for i := 0; i < n; i++ {
			a[i*n+i] = float64(i + 1)
		}
		return NewQuadratic(n, a, nil), nil
	},
}

// Lookup builds the named problem for dimension n.
func Lookup(name string, n int) (optimize.Problem, error) {
	build, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("unknown problem %q", name)
	}
	if n <= 0 {
		return nil, fmt.Errorf("problem dimension must be positive, got %d", n)
	}
	return build(n)
}

// Names lists the registered problem names, sorted.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
