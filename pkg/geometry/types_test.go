package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAffineApply(t *testing.T) {
	tr := AffineTransform{
		A: [2][2]float64{{1.2, 0.1}, {-0.05, 0.9}},
		B: [2]float64{15, -10},
	}
	p := NewPoint2D(320, 240)

	q := tr.Apply(p)
	assert.InDelta(t, 1.2*320+0.1*240+15, q.X, 1e-9)
	assert.InDelta(t, -0.05*320+0.9*240-10, q.Y, 1e-9)
	assert.InDelta(t, 1.2*0.9+0.1*0.05, tr.Determinant(), 1e-12)

	assert.True(t, Identity().IsIdentity())
	assert.False(t, Translation(5, 7).IsIdentity())
	assert.Equal(t, p.Add(NewPoint2D(5, 7)), Translation(5, 7).Apply(p))

	mirror := AffineTransform{A: [2][2]float64{{-1, 0}, {0, 1}}, B: [2]float64{1000, 0}}
	assert.Less(t, mirror.Determinant(), 0.0)
}

func TestQuadraticApply(t *testing.T) {
	q := QuadraticTransform{
		AX: [6]float64{1, 2, 0, 0.5, 0, 0},
		AY: [6]float64{0, 0, 1, 0, 1, 0},
	}
	got := q.Apply(NewPoint2D(2, 3))
	assert.InDelta(t, 1+4+2, got.X, 1e-12)
	assert.InDelta(t, 3+6, got.Y, 1e-12)
}

func TestMedianAndMAD(t *testing.T) {
	assert.Equal(t, 0.0, Median(nil))
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))

	pts := []Point2D{{0, 0}, {0, 0}, {0, 0}, {100, 100}}
	assert.Equal(t, Point2D{}, MedianPoint(pts))
	assert.Equal(t, 0.0, MAD(pts))
	assert.Equal(t, 0.0, MAD(nil))

	assert.Equal(t, 9.0, Percentile([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.95))
}

func TestViewportConversions(t *testing.T) {
	v := Viewport{W: 1920, H: 1080}
	require.True(t, v.Valid())
	assert.Equal(t, Point2D{X: 192, Y: 108}, v.FromPercent(10, 10))
	assert.Equal(t, Point2D{X: 0.5, Y: 0.5}, v.ToUnit(Point2D{X: 960, Y: 540}))
	assert.Equal(t, Point2D{X: 1920, Y: 0}, v.Clamp(Point2D{X: 5000, Y: -3}))
	assert.False(t, Viewport{}.Valid())
}

func TestRectDistance(t *testing.T) {
	r := NewRect(10, 10, 100, 50)
	assert.Equal(t, 0.0, r.DistanceTo(r.Center()))
	assert.InDelta(t, 5.0, r.DistanceTo(Point2D{X: 115, Y: 30}), 1e-12)
	assert.InDelta(t, math.Hypot(3, 4), r.DistanceTo(Point2D{X: 7, Y: 6}), 1e-12)
	assert.True(t, r.Contains(Point2D{X: 110, Y: 60}))
}

func TestConvexHullAndCollinear(t *testing.T) {
	square := []Point2D{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {5, 5}}
	hull := ConvexHull(square)
	assert.Len(t, hull, 4)
	assert.InDelta(t, 100, PolygonArea(hull), 1e-9)

	line := []Point2D{{0, 0}, {1, 1}, {2, 2}, {3, 3}}
	assert.True(t, Collinear(line, 1e-6))
	assert.False(t, Collinear(square, 1e-6))
	assert.True(t, Collinear([]Point2D{{1, 1}, {1, 1}, {1, 1}}, 1e-6))
}
