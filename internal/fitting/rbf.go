package fitting

import (
	"math"

	"gaze-tracer/internal/linalg"
	"gaze-tracer/pkg/geometry"
)

// DefaultRBFSigma is the Gaussian width in unit (0..1) viewport coordinates.
const DefaultRBFSigma = 0.12

// rbfRidge regularizes the normal matrix, which is rank deficient by
// construction (n kernels plus a 3-term affine tail over n equations).
const rbfRidge = 1e-6

// RBFModel is a Gaussian radial-basis correction with an affine tail:
//
//	f(p) = Σ wᵢ·exp(-‖p-cᵢ‖² / 2σ²) + a₀ + a₁x + a₂y
type RBFModel struct {
	Centers []geometry.Point2D `json:"centers"`
	WX      []float64          `json:"wx"`
	WY      []float64          `json:"wy"`
	AX      [3]float64         `json:"ax"`
	AY      [3]float64         `json:"ay"`
	Sigma   float64            `json:"sigma"`
}

// FitRBF fits an RBF model in unit space. The second result is false with
// fewer than six correspondences or a singular system.
func FitRBF(raw, target []geometry.Point2D, weights []float64, sigma float64) (*RBFModel, bool) {
	n := pairCount(raw, target)
	if n < MinQuadraticPoints {
		return nil, false
	}
	if sigma <= 0 {
		sigma = DefaultRBFSigma
	}
	w := normalizeWeights(weights, n)

	rows := make([][]float64, n)
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		sw := math.Sqrt(w[i])
		row := make([]float64, n+3)
		for j := 0; j < n; j++ {
			row[j] = sw * kernel(raw[i], raw[j], sigma)
		}
		row[n], row[n+1], row[n+2] = sw, sw*raw[i].X, sw*raw[i].Y
		rows[i] = row
		xs[i] = sw * target[i].X
		ys[i] = sw * target[i].Y
	}
	phi := linalg.FromRows(rows)

	phiT := linalg.Transpose(phi)
	g := linalg.Multiply(phiT, phi)
	for i := 0; i < n+3; i++ {
		g.Set(i, i, g.At(i, i)+rbfRidge)
	}
	inv, ok := linalg.Invert(g)
	if !ok {
		return nil, false
	}
	solX := linalg.MultiplyVector(inv, linalg.MultiplyVector(phiT, xs))
	solY := linalg.MultiplyVector(inv, linalg.MultiplyVector(phiT, ys))
	if !allFinite(solX) || !allFinite(solY) {
		return nil, false
	}

	return &RBFModel{
		Centers: append([]geometry.Point2D(nil), raw[:n]...),
		WX:      solX[:n],
		WY:      solY[:n],
		AX:      [3]float64{solX[n], solX[n+1], solX[n+2]},
		AY:      [3]float64{solY[n], solY[n+1], solY[n+2]},
		Sigma:   sigma,
	}, true
}

// Apply evaluates the model at p (unit coordinates).
func (m *RBFModel) Apply(p geometry.Point2D) geometry.Point2D {
	fx := m.AX[0] + m.AX[1]*p.X + m.AX[2]*p.Y
	fy := m.AY[0] + m.AY[1]*p.X + m.AY[2]*p.Y
	for i, c := range m.Centers {
		k := kernel(p, c, m.Sigma)
		fx += m.WX[i] * k
		fy += m.WY[i] * k
	}
	return geometry.Point2D{X: fx, Y: fy}
}

func kernel(p, c geometry.Point2D, sigma float64) float64 {
	d := p.Distance(c)
	return math.Exp(-(d * d) / (2 * sigma * sigma))
}
