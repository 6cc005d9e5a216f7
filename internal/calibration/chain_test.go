package calibration

import (
	"sync"
	"testing"

	"gaze-tracer/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var screen = geometry.Viewport{W: 1920, H: 1080}

func TestChainAppliesAffineBeforeQuadratic(t *testing.T) {
	affine := geometry.Translation(100, 0)
	// Doubles x: the order is observable because translation and scaling do not commute.
	quad := geometry.QuadraticTransform{AX: [6]float64{0, 2, 0, 0, 0, 0}, AY: [6]float64{0, 0, 1, 0, 0, 0}}
	c := &Chain{Affine: &affine, Quad: &quad, Viewport: screen}

	got := c.Apply(geometry.Point2D{X: 50, Y: 20})
	assert.Equal(t, geometry.Point2D{X: 300, Y: 20}, got)
	assert.False(t, c.IsIdentity())
}

func TestChainClampsToViewport(t *testing.T) {
	affine := geometry.Translation(500, -500)
	c := &Chain{Affine: &affine, Viewport: screen}
	assert.Equal(t, geometry.Point2D{X: 1920, Y: 0}, c.Apply(geometry.Point2D{X: 1800, Y: 100}))

	unbounded := &Chain{Affine: &affine}
	assert.Equal(t, geometry.Point2D{X: 2300, Y: -400}, unbounded.Apply(geometry.Point2D{X: 1800, Y: 100}))
}

func TestChainRescalesAfterResize(t *testing.T) {
	affine := geometry.Translation(20, -10)
	c := &Chain{Affine: &affine, Viewport: screen}
	half := geometry.Viewport{W: 960, H: 540}

	// 20px in the calibration viewport is 10px in a viewport half the size.
	got := c.ApplyIn(geometry.Point2D{X: 100, Y: 100}, half)
	assert.InDelta(t, 110, got.X, 1e-9)
	assert.InDelta(t, 95, got.Y, 1e-9)

	assert.Equal(t, c.Apply(geometry.Point2D{X: 100, Y: 100}), c.ApplyIn(geometry.Point2D{X: 100, Y: 100}, screen))
}

func TestIdentityChain(t *testing.T) {
	var nilChain *Chain
	p := geometry.Point2D{X: 12, Y: 34}
	assert.True(t, nilChain.IsIdentity())
	assert.Equal(t, p, nilChain.Apply(p))
	assert.True(t, Identity(screen).IsIdentity())
	assert.Equal(t, p, Identity(screen).ApplyIn(p, geometry.Viewport{W: 800, H: 600}))
}

func TestUnitToPxConversions(t *testing.T) {
	tu := geometry.AffineTransform{A: [2][2]float64{{1.1, 0.05}, {-0.02, 0.9}}, B: [2]float64{0.01, -0.03}}
	qu := geometry.QuadraticTransform{
		AX: [6]float64{0.01, 0.9, 0.02, 0.1, -0.05, 0.03},
		AY: [6]float64{-0.02, 0.01, 1.1, 0.02, 0.04, -0.1},
	}
	tpx := AffineUnitToPx(tu, screen)
	qpx := QuadUnitToPx(qu, screen)

	for _, p := range []geometry.Point2D{{X: 100, Y: 50}, {X: 960, Y: 540}, {X: 1800, Y: 1000}} {
		want := screen.ToPx(tu.Apply(screen.ToUnit(p)))
		got := tpx.Apply(p)
		assert.InDelta(t, want.X, got.X, 1e-9)
		assert.InDelta(t, want.Y, got.Y, 1e-9)

		want = screen.ToPx(qu.Apply(screen.ToUnit(p)))
		got = qpx.Apply(p)
		assert.InDelta(t, want.X, got.X, 1e-9)
		assert.InDelta(t, want.Y, got.Y, 1e-9)
	}
	assert.Equal(t, []geometry.Point2D{{X: 0.5, Y: 0.5}}, ToUnit([]geometry.Point2D{{X: 960, Y: 540}}, screen))
}

func TestHolderSwapIsAtomic(t *testing.T) {
	var zero Holder
	require.NotNil(t, zero.Load())
	assert.True(t, zero.Load().IsIdentity())

	h := NewHolder(screen)
	a := geometry.Translation(5, 5)
	fitted := &Chain{Affine: &a, Viewport: screen}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				got := h.Apply(geometry.Point2D{X: 10, Y: 10}, screen)
				// Either the identity or the full fit, never a mix.
				if got != (geometry.Point2D{X: 10, Y: 10}) {
					assert.Equal(t, geometry.Point2D{X: 15, Y: 15}, got)
				}
			}
		}()
	}
	old := h.Swap(fitted)
	wg.Wait()

	assert.True(t, old.IsIdentity())
	assert.Same(t, fitted, h.Load())

	h.Reset(screen)
	assert.True(t, h.Load().IsIdentity())
	h.Swap(nil)
	assert.True(t, h.Load().IsIdentity())
}
