package fitting

import (
	"math"
	"math/rand"
	"testing"

	"gaze-tracer/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var knownAffine = geometry.AffineTransform{
	A: [2][2]float64{{1.08, -0.04}, {0.03, 0.95}},
	B: [2]float64{-22.5, 14},
}

func grid(cols, rows int, w, h float64) []geometry.Point2D {
	var pts []geometry.Point2D
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			pts = append(pts, geometry.Point2D{
				X: w * (0.1 + 0.8*float64(c)/float64(cols-1)),
				Y: h * (0.1 + 0.8*float64(r)/float64(rows-1)),
			})
		}
	}
	return pts
}

func mapAll(pts []geometry.Point2D, f func(geometry.Point2D) geometry.Point2D) []geometry.Point2D {
	out := make([]geometry.Point2D, len(pts))
	for i, p := range pts {
		out[i] = f(p)
	}
	return out
}

func assertAffineNear(t *testing.T, want, got geometry.AffineTransform, tol float64) {
	t.Helper()
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.InDelta(t, want.A[i][j], got.A[i][j], tol*math.Max(1, math.Abs(want.A[i][j])), "A[%d][%d]", i, j)
		}
		assert.InDelta(t, want.B[i], got.B[i], tol*math.Max(1, math.Abs(want.B[i])), "b[%d]", i)
	}
}

func TestFitAffineIdentityFallback(t *testing.T) {
	cases := map[string][]geometry.Point2D{
		"nil":   nil,
		"empty": {},
		"one":   {{X: 10, Y: 10}},
		"two":   {{X: 10, Y: 10}, {X: 200, Y: 50}},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			target := mapAll(raw, knownAffine.Apply)
			assert.Equal(t, geometry.Identity(), FitAffineWeighted(raw, target, nil))
		})
	}

	t.Run("collinear", func(t *testing.T) {
		raw := []geometry.Point2D{{X: 0, Y: 0}, {X: 100, Y: 100}, {X: 200, Y: 200}, {X: 300, Y: 300}}
		assert.Equal(t, geometry.Identity(), FitAffineWeighted(raw, mapAll(raw, knownAffine.Apply), nil))
	})

	t.Run("mismatched lengths use the shorter set", func(t *testing.T) {
		raw := grid(3, 3, 1920, 1080)
		target := mapAll(raw[:2], knownAffine.Apply)
		assert.Equal(t, geometry.Identity(), FitAffineWeighted(raw, target, nil))
	})
}

func TestFitAffineExactRecovery(t *testing.T) {
	raw := []geometry.Point2D{{X: 100, Y: 80}, {X: 1700, Y: 120}, {X: 900, Y: 950}}
	got := FitAffineWeighted(raw, mapAll(raw, knownAffine.Apply), []float64{1, 1, 1})
	assertAffineNear(t, knownAffine, got, 1e-6)

	raw = grid(4, 3, 1920, 1080)
	target := mapAll(raw, knownAffine.Apply)
	got = FitAffineWeighted(raw, target, nil)
	assertAffineNear(t, knownAffine, got, 1e-6)

	// Round trip on the training pairs.
	for i, p := range raw {
		q := ApplyAffine(p, got)
		assert.InDelta(t, target[i].X, q.X, 1e-6)
		assert.InDelta(t, target[i].Y, q.Y, 1e-6)
	}
}

func TestFitAffineWeightsFavourHeavyPairs(t *testing.T) {
	raw := grid(3, 3, 1000, 1000)
	target := mapAll(raw, geometry.Translation(10, 0).Apply)
	// One pair disagrees; with a tiny weight it barely moves the fit.
	target[4] = target[4].Add(geometry.Point2D{X: 100})
	weights := []float64{1, 1, 1, 1, 1e-6, 1, 1, 1, 1}

	weighted := FitAffineWeighted(raw, target, weights)
	uniform := FitAffineWeighted(raw, target, nil)

	center := raw[4]
	assert.InDelta(t, center.X+10, weighted.Apply(center).X, 0.01)
	assert.Greater(t, uniform.Apply(center).X-(center.X+10), 5.0)

	// A weight slice of the wrong length is ignored.
	assert.Equal(t, uniform, FitAffineWeighted(raw, target, []float64{1, 2}))
}

func TestRANSACRejectsOutliers(t *testing.T) {
	raw := grid(5, 4, 1920, 1080)
	target := mapAll(raw, knownAffine.Apply)

	outlierRaw := []geometry.Point2D{{X: 500, Y: 300}, {X: 1400, Y: 300}, {X: 960, Y: 540}, {X: 500, Y: 800}, {X: 1400, Y: 800}}
	offsets := []geometry.Point2D{{X: 250, Y: 0}, {X: 0, Y: -240}, {X: -210, Y: 210}, {X: 300, Y: 120}, {X: -220, Y: -260}}
	for i, p := range outlierRaw {
		raw = append(raw, p)
		target = append(target, knownAffine.Apply(p).Add(offsets[i]))
	}

	res := RANSACAffine(raw, target, nil, RANSACOptions{
		ThresholdPx: 60,
		Rand:        rand.New(rand.NewSource(7)),
	})

	require.Len(t, res.Inliers, 25)
	for i := 0; i < 20; i++ {
		assert.True(t, res.Inliers[i], "pair %d should be an inlier", i)
	}
	for i := 20; i < 25; i++ {
		assert.False(t, res.Inliers[i], "pair %d should be an outlier", i)
	}
	assert.Equal(t, 20, res.InlierCount)
	assertAffineNear(t, knownAffine, res.Transform, 1e-6)
	assert.LessOrEqual(t, res.Iterations, DefaultMaxIterations)
}

func TestRANSACSmallSetFitsDirectly(t *testing.T) {
	raw := grid(3, 2, 1920, 1080)[:5]
	target := mapAll(raw, knownAffine.Apply)

	res := RANSACAffine(raw, target, nil, RANSACOptions{})
	assert.Equal(t, []bool{true, true, true, true, true}, res.Inliers)
	assert.Zero(t, res.Iterations)
	assertAffineNear(t, knownAffine, res.Transform, 1e-6)
}

func TestRANSACEarlyExit(t *testing.T) {
	raw := grid(4, 4, 1920, 1080)
	target := mapAll(raw, knownAffine.Apply)

	res := RANSACAffine(raw, target, nil, RANSACOptions{Rand: rand.New(rand.NewSource(1))})
	assert.Equal(t, 16, res.InlierCount)
	assert.Less(t, res.Iterations, DefaultMaxIterations)
}

func TestRANSACDegenerateSamplesFallBackToFullSet(t *testing.T) {
	// Every sample is collinear, so each candidate is the identity and explains nothing.
	var raw, target []geometry.Point2D
	for i := 0; i < 8; i++ {
		p := geometry.Point2D{X: float64(i) * 100, Y: float64(i) * 50}
		raw = append(raw, p)
		target = append(target, p.Add(geometry.Point2D{X: 500, Y: 500}))
	}

	res := RANSACAffine(raw, target, nil, RANSACOptions{Rand: rand.New(rand.NewSource(3))})
	assert.Zero(t, res.InlierCount)
	assert.Equal(t, DefaultMaxIterations, res.Iterations)
	assert.Equal(t, geometry.Identity(), res.Transform)
}

func TestFitQuadratic(t *testing.T) {
	q := geometry.QuadraticTransform{
		AX: [6]float64{12, 0.98, 0.01, 2e-5, -1e-5, 0},
		AY: [6]float64{-8, 0.02, 1.03, 0, 1e-5, -3e-5},
	}
	raw := grid(4, 4, 1920, 1080)
	target := mapAll(raw, q.Apply)

	got, ok := FitQuadraticWeighted(raw, target, nil)
	require.True(t, ok)
	for _, p := range []geometry.Point2D{{X: 300, Y: 200}, {X: 960, Y: 540}, {X: 1700, Y: 900}} {
		want := q.Apply(p)
		have := ApplyQuadratic(p, got)
		assert.InDelta(t, want.X, have.X, 1e-6)
		assert.InDelta(t, want.Y, have.Y, 1e-6)
	}
}

func TestFitQuadraticNotAvailable(t *testing.T) {
	raw := grid(3, 2, 1920, 1080)[:5]
	_, ok := FitQuadraticWeighted(raw, raw, nil)
	assert.False(t, ok, "five pairs")

	// Ten pairs but only five distinct raw positions.
	repeated := append(append([]geometry.Point2D(nil), raw...), raw...)
	_, ok = FitQuadraticWeighted(repeated, repeated, nil)
	assert.False(t, ok, "repeated positions")
}

func TestFitRBFInterpolates(t *testing.T) {
	raw := grid(3, 3, 1, 1)
	target := make([]geometry.Point2D, len(raw))
	for i, p := range raw {
		target[i] = geometry.Point2D{X: p.X + 0.01*math.Sin(6*p.Y), Y: p.Y - 0.01*math.Cos(6*p.X)}
	}

	m, ok := FitRBF(raw, target, nil, 0)
	require.True(t, ok)
	assert.Equal(t, DefaultRBFSigma, m.Sigma)
	for i, p := range raw {
		got := m.Apply(p)
		assert.InDelta(t, target[i].X, got.X, 1e-3)
		assert.InDelta(t, target[i].Y, got.Y, 1e-3)
	}

	_, ok = FitRBF(raw[:5], target[:5], nil, 0)
	assert.False(t, ok)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{1, 2, 3, 4})
	assert.Equal(t, 2.5, s.Mean)
	assert.Equal(t, 2.5, s.Median)
	assert.Equal(t, 3.0, s.P95)
	assert.Equal(t, 4.0, s.Max)
	assert.Equal(t, 4, s.Count)

	assert.True(t, math.IsInf(Summarize(nil).Median, 1))

	raw := grid(3, 3, 100, 100)
	assert.InDelta(t, 0, CalculateAlignmentError(raw, raw, geometry.Identity()), 1e-12)
}
