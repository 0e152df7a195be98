package optimize

import "gonum.org/v1/gonum/mat"

// solveTriangle solves the linear system T*x = b by substitution in O(n²),
// where T holds a triangular factor in its lower triangle.
//
// With lower == true the system T*x = b is solved by forward substitution.
// With lower == false the pass runs backwards and reads t column-wise, so
// it solves T'*x = b for the same lower-stored factor; this is how the
// driver reuses the stored L for the second stage of the direction solve.
//
// Rows flagged in skip contribute nothing: their result entry is forced to
// zero and their (possibly degenerate) diagonal is never read. skip may be
// nil. The result is written into out, which is allocated when nil. The
// routine itself raises no error; NaN propagation is the caller's concern.
func solveTriangle(t *mat.Dense, b []float64, lower bool, skip []bool, out []float64) []float64 {
	n := len(b)
	if out == nil {
		out = make([]float64, n)
	}

	if lower {
		for j := 0; j < n; j++ {
			if skip != nil && skip[j] {
				out[j] = 0.0
				continue
			}
			numerator := b[j]
			for k := 0; k < j; k++ {
				numerator -= t.At(j, k) * out[k]
			}
			out[j] = numerator / t.At(j, j)
		}
	} else {
		for j := n - 1; j >= 0; j-- {
			if skip != nil && skip[j] {
				out[j] = 0.0
				continue
			}
			numerator := b[j]
			for k := j + 1; k < n; k++ {
				numerator -= t.At(k, j) * out[k]
			}
			out[j] = numerator / t.At(j, j)
		}
	}
	return out
}
