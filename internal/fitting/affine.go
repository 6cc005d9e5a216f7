// Package fitting estimates the transforms that map raw gaze samples onto
// known screen targets: weighted affine and quadratic least squares, a
// RANSAC-robust affine, and a radial-basis refinement.
package fitting

import (
	"math"

	"gaze-tracer/internal/linalg"
	"gaze-tracer/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

// MinAffinePoints is the number of correspondences an affine fit needs.
const MinAffinePoints = 3

// minWeight keeps zero or negative weights from removing rows entirely.
const minWeight = 1e-6

// collinearTolerance is relative to the spread of the raw points.
const collinearTolerance = 1e-6

// FitAffineWeighted solves the weighted normal equations (MᵀWM)θ = MᵀWy for
//
//	x' = a·x + b·y + tx
//	y' = c·x + d·y + ty
//
// Fewer than three usable correspondences, collinear raw points, or a singular
// system all yield the identity transform.
func FitAffineWeighted(raw, target []geometry.Point2D, weights []float64) geometry.AffineTransform {
	n := pairCount(raw, target)
	if n < MinAffinePoints || degenerate(raw[:n]) {
		return geometry.Identity()
	}
	w := normalizeWeights(weights, n)

	// Rows are scaled by √w so that MᵀM carries W once.
	m := mat.NewDense(2*n, 6, nil)
	y := make([]float64, 2*n)
	for i := 0; i < n; i++ {
		r, t := raw[i], target[i]
		sw := math.Sqrt(w[i])
		m.SetRow(2*i, []float64{sw * r.X, sw * r.Y, sw, 0, 0, 0})
		y[2*i] = sw * t.X
		m.SetRow(2*i+1, []float64{0, 0, 0, sw * r.X, sw * r.Y, sw})
		y[2*i+1] = sw * t.Y
	}

	mt := linalg.Transpose(m)
	s, ok := linalg.Solve(linalg.Multiply(mt, m), linalg.MultiplyVector(mt, y))
	if !ok || !allFinite(s) {
		return geometry.Identity()
	}
	return geometry.AffineTransform{
		A: [2][2]float64{{s[0], s[1]}, {s[3], s[4]}},
		B: [2]float64{s[2], s[5]},
	}
}

// ApplyAffine applies t to p.
func ApplyAffine(p geometry.Point2D, t geometry.AffineTransform) geometry.Point2D {
	return t.Apply(p)
}

// pairCount returns the number of usable correspondences.
func pairCount(raw, target []geometry.Point2D) int {
	return min(len(raw), len(target))
}

// normalizeWeights returns per-pair weights, defaulting to 1 when the slice is
// missing or its length does not match n.
func normalizeWeights(weights []float64, n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
		if len(weights) == n {
			w[i] = math.Max(minWeight, weights[i])
		}
	}
	return w
}

// degenerate reports whether the points are too close to a line (or a single
// point) to constrain an affine map.
func degenerate(points []geometry.Point2D) bool {
	box := geometry.BoundingBox(points)
	spread := math.Hypot(box.Width, box.Height)
	if spread == 0 {
		return true
	}
	return geometry.Collinear(points, collinearTolerance*spread)
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
