//go:build property
// +build property

// Package fitting_test contains property-based tests for the calibration fits.
package fitting_test

import (
	"math"
	"testing"

	"gaze-tracer/internal/fitting"
	"gaze-tracer/pkg/geometry"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func near(a, b float64) bool {
	return math.Abs(a-b) <= 1e-6*math.Max(1, math.Abs(b))
}

// TestAffineIdentityFallback verifies short inputs never produce a fitted map.
// Property: len(raw) < 3 => FitAffineWeighted(raw, target) == identity
func TestAffineIdentityFallback(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("fewer than three pairs yields identity", prop.ForAll(
		func(xs, ys []float64) bool {
			var raw, target []geometry.Point2D
			for i := 0; i < len(xs) && i < len(ys) && i < 2; i++ {
				raw = append(raw, geometry.Point2D{X: xs[i], Y: ys[i]})
				target = append(target, geometry.Point2D{X: ys[i], Y: xs[i]})
			}
			return fitting.FitAffineWeighted(raw, target, nil) == geometry.Identity()
		},
		gen.SliceOfN(2, gen.Float64Range(-5000, 5000)),
		gen.SliceOfN(2, gen.Float64Range(-5000, 5000)),
	))

	properties.TestingRun(t)
}

// TestAffineExactRecovery verifies noiseless correspondences recover the map.
// Property: FitAffineWeighted(p, T(p)) == T for non-collinear p
func TestAffineExactRecovery(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	coeff := gen.Float64Range(-2, 2)
	offset := gen.Float64Range(-300, 300)
	coord := gen.Float64Range(0, 1920)

	properties.Property("exact affine is recovered", prop.ForAll(
		func(a, b, c, d, tx, ty, x0, y0, x1, y1, x2, y2 float64) bool {
			tr := geometry.AffineTransform{A: [2][2]float64{{a, b}, {c, d}}, B: [2]float64{tx, ty}}
			raw := []geometry.Point2D{{X: x0, Y: y0}, {X: x1, Y: y1}, {X: x2, Y: y2}, {X: (x0 + x1) / 2, Y: y2}}
			hull := geometry.ConvexHull(raw)
			if geometry.PolygonArea(hull) < 1e5 {
				return true // skip near-degenerate layouts
			}
			target := make([]geometry.Point2D, len(raw))
			for i, p := range raw {
				target[i] = tr.Apply(p)
			}

			got := fitting.FitAffineWeighted(raw, target, []float64{1, 1, 1, 1})
			for i, p := range raw {
				q := got.Apply(p)
				if !near(q.X, target[i].X) || !near(q.Y, target[i].Y) {
					return false
				}
			}
			return near(got.A[0][0], a) && near(got.A[0][1], b) &&
				near(got.A[1][0], c) && near(got.A[1][1], d) &&
				near(got.B[0], tx) && near(got.B[1], ty)
		},
		coeff, coeff, coeff, coeff, offset, offset,
		coord, coord, coord, coord, coord, coord,
	))

	properties.TestingRun(t)
}
