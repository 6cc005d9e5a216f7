package fitting

import (
	"math"

	"gaze-tracer/internal/linalg"
	"gaze-tracer/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

// MinQuadraticPoints is the number of correspondences a quadratic fit needs.
const MinQuadraticPoints = 6

// FitQuadraticWeighted fits x' and y' independently over the basis
// [1, x, y, x², xy, y²]. The second result is false with fewer than six
// correspondences, fewer than six distinct raw positions, or when the normal
// matrix cannot be inverted; callers then keep the affine result alone.
//
// Raw points are centred and scaled before fitting so the normal matrix stays
// well conditioned at pixel magnitudes; the returned coefficients are expanded
// back into the pixel basis.
func FitQuadraticWeighted(raw, target []geometry.Point2D, weights []float64) (geometry.QuadraticTransform, bool) {
	n := pairCount(raw, target)
	if n < MinQuadraticPoints || distinctCount(raw[:n]) < MinQuadraticPoints {
		return geometry.QuadraticTransform{}, false
	}
	w := normalizeWeights(weights, n)
	norm := newNormalizer(raw[:n])

	phi := mat.NewDense(n, 6, nil)
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		sw := math.Sqrt(w[i])
		basis := geometry.QuadraticBasis(norm.apply(raw[i]))
		for j := range basis {
			basis[j] *= sw
		}
		phi.SetRow(i, basis[:])
		xs[i] = sw * target[i].X
		ys[i] = sw * target[i].Y
	}

	phiT := linalg.Transpose(phi)
	inv, ok := linalg.Invert(linalg.Multiply(phiT, phi))
	if !ok {
		return geometry.QuadraticTransform{}, false
	}
	ax := linalg.MultiplyVector(inv, linalg.MultiplyVector(phiT, xs))
	ay := linalg.MultiplyVector(inv, linalg.MultiplyVector(phiT, ys))
	if !allFinite(ax) || !allFinite(ay) {
		return geometry.QuadraticTransform{}, false
	}

	var q geometry.QuadraticTransform
	q.AX = norm.expand(ax)
	q.AY = norm.expand(ay)
	return q, true
}

// ApplyQuadratic evaluates q at p.
func ApplyQuadratic(p geometry.Point2D, q geometry.QuadraticTransform) geometry.Point2D {
	return q.Apply(p)
}

// normalizer maps a point to u = a·x + px, v = a·y + py.
type normalizer struct {
	a, px, py float64
}

func newNormalizer(points []geometry.Point2D) normalizer {
	c := geometry.Centroid(points)
	var spread float64
	for _, p := range points {
		spread += p.Distance(c)
	}
	spread /= float64(len(points))
	if spread == 0 {
		spread = 1
	}
	a := 1 / spread
	return normalizer{a: a, px: -c.X * a, py: -c.Y * a}
}

func (n normalizer) apply(p geometry.Point2D) geometry.Point2D {
	return geometry.Point2D{X: n.a*p.X + n.px, Y: n.a*p.Y + n.py}
}

// expand rewrites coefficients over the normalized basis as coefficients over
// the raw [1, x, y, x², xy, y²] basis.
func (n normalizer) expand(c []float64) [6]float64 {
	a, p, q := n.a, n.px, n.py
	return [6]float64{
		c[0] + c[1]*p + c[2]*q + c[3]*p*p + c[4]*p*q + c[5]*q*q,
		c[1]*a + 2*c[3]*a*p + c[4]*a*q,
		c[2]*a + c[4]*a*p + 2*c[5]*a*q,
		c[3] * a * a,
		c[4] * a * a,
		c[5] * a * a,
	}
}

// distinctCount counts raw positions that are not repeats of an earlier one.
func distinctCount(points []geometry.Point2D) int {
	box := geometry.BoundingBox(points)
	tol := collinearTolerance * math.Hypot(box.Width, box.Height)
	count := 0
	for i, p := range points {
		repeat := false
		for _, q := range points[:i] {
			if p.Distance(q) <= tol {
				repeat = true
				break
			}
		}
		if !repeat {
			count++
		}
	}
	return count
}
