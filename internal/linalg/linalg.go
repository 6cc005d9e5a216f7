// Package linalg provides the small dense matrix operations used by the
// calibration fitting routines. Storage and products are delegated to gonum;
// inversion and solving use Gauss-Jordan elimination with partial pivoting so
// that near-singular systems are reported instead of silently blown up.
package linalg

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Epsilon is the smallest pivot magnitude accepted during elimination.
const Epsilon = 1e-9

// FromRows builds a dense matrix from row-major nested slices.
func FromRows(rows [][]float64) *mat.Dense {
	if len(rows) == 0 {
		return &mat.Dense{}
	}
	c := len(rows[0])
	data := make([]float64, 0, len(rows)*c)
	for _, row := range rows {
		data = append(data, row[:c]...)
	}
	return mat.NewDense(len(rows), c, data)
}

// Transpose returns a new matrix holding mᵀ.
func Transpose(m mat.Matrix) *mat.Dense {
	return mat.DenseCopyOf(m.T())
}

// Multiply returns a·b. Panics on mismatched dimensions, as gonum does.
func Multiply(a, b mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Mul(a, b)
	return &out
}

// MultiplyVector returns a·x.
func MultiplyVector(a mat.Matrix, x []float64) []float64 {
	var out mat.VecDense
	out.MulVec(a, mat.NewVecDense(len(x), append([]float64(nil), x...)))
	return out.RawVector().Data
}

// Invert returns a⁻¹. The second result is false when a is not square or a
// pivot falls below Epsilon.
func Invert(a mat.Matrix) (*mat.Dense, bool) {
	n, c := a.Dims()
	if n != c || n == 0 {
		return nil, false
	}

	// Augmented [A | I].
	m := mat.NewDense(n, 2*n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			m.Set(i, j, a.At(i, j))
		}
		m.Set(i, n+i, 1)
	}
	if !eliminate(m, n) {
		return nil, false
	}
	return mat.DenseCopyOf(m.Slice(0, n, n, 2*n)), true
}

// Solve returns x with a·x = b. The second result is false when a is not
// square, the sizes disagree, or a pivot falls below Epsilon.
func Solve(a mat.Matrix, b []float64) ([]float64, bool) {
	n, c := a.Dims()
	if n != c || n != len(b) || n == 0 {
		return nil, false
	}

	m := mat.NewDense(n, n+1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			m.Set(i, j, a.At(i, j))
		}
		m.Set(i, n, b[i])
	}
	if !eliminate(m, n) {
		return nil, false
	}
	x := make([]float64, n)
	for i := range x {
		x[i] = m.At(i, n)
	}
	return x, true
}

// eliminate reduces the first n columns of the augmented matrix m to the
// identity, applying the same row operations to the remaining columns.
func eliminate(m *mat.Dense, n int) bool {
	_, cols := m.Dims()
	for i := 0; i < n; i++ {
		p := i
		for r := i + 1; r < n; r++ {
			if math.Abs(m.At(r, i)) > math.Abs(m.At(p, i)) {
				p = r
			}
		}
		if math.Abs(m.At(p, i)) < Epsilon {
			return false
		}
		if p != i {
			swapRows(m, i, p)
		}

		piv := m.At(i, i)
		for j := 0; j < cols; j++ {
			m.Set(i, j, m.At(i, j)/piv)
		}
		for r := 0; r < n; r++ {
			if r == i {
				continue
			}
			f := m.At(r, i)
			if f == 0 {
				continue
			}
			for j := 0; j < cols; j++ {
				m.Set(r, j, m.At(r, j)-f*m.At(i, j))
			}
		}
	}
	return true
}

func swapRows(m *mat.Dense, i, j int) {
	ri := mat.Row(nil, i, m)
	rj := mat.Row(nil, j, m)
	m.SetRow(i, rj)
	m.SetRow(j, ri)
}
