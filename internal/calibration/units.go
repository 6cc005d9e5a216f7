package calibration

import "gaze-tracer/pkg/geometry"

// AffineUnitToPx converts an affine fitted on unit (0..1) coordinates into
// the equivalent pixel-space transform for v.
func AffineUnitToPx(tu geometry.AffineTransform, v geometry.Viewport) geometry.AffineTransform {
	return geometry.AffineTransform{
		A: [2][2]float64{
			{tu.A[0][0], tu.A[0][1] * v.W / v.H},
			{tu.A[1][0] * v.H / v.W, tu.A[1][1]},
		},
		B: [2]float64{tu.B[0] * v.W, tu.B[1] * v.H},
	}
}

// QuadUnitToPx converts a quadratic fitted on unit coordinates into pixel
// coefficients over [1, x, y, x², xy, y²].
func QuadUnitToPx(q geometry.QuadraticTransform, v geometry.Viewport) geometry.QuadraticTransform {
	a, b := q.AX, q.AY
	w, h := v.W, v.H
	return geometry.QuadraticTransform{
		AX: [6]float64{w * a[0], a[1], w / h * a[2], a[3] / w, a[4] / h, w * a[5] / (h * h)},
		AY: [6]float64{h * b[0], h / w * b[1], b[2], h * b[3] / (w * w), b[4] / w, b[5] / h},
	}
}

// ToUnit converts pixel points to unit coordinates.
func ToUnit(points []geometry.Point2D, v geometry.Viewport) []geometry.Point2D {
	out := make([]geometry.Point2D, len(points))
	for i, p := range points {
		out[i] = v.ToUnit(p)
	}
	return out
}
