// Package calibration applies fitted gaze calibrations to raw samples.
//
// A Chain is immutable once published: recalibration builds a new Chain and
// swaps it into a Holder, so readers never observe a partially updated map.
package calibration

import (
	"sync/atomic"

	"gaze-tracer/internal/fitting"
	"gaze-tracer/pkg/geometry"
)

// Chain is a calibrated raw-to-screen mapping. Stages run in order: affine for
// the global correction, quadratic on the affine-corrected point for local and
// corner error, then an optional RBF correction in unit space. Each later stage
// is trained on the output of the earlier ones, so the order is fixed.
type Chain struct {
	Affine *geometry.AffineTransform    `json:"affine,omitempty"`
	Quad   *geometry.QuadraticTransform `json:"quad,omitempty"`
	RBF    *fitting.RBFModel            `json:"rbf,omitempty"`
	// Viewport is the screen size the chain was fitted at.
	Viewport geometry.Viewport `json:"viewport"`
}

// Identity returns a chain that passes points through unchanged.
func Identity(v geometry.Viewport) *Chain {
	return &Chain{Viewport: v}
}

// IsIdentity reports whether the chain applies no correction.
func (c *Chain) IsIdentity() bool {
	return c == nil || ((c.Affine == nil || c.Affine.IsIdentity()) && c.Quad == nil && c.RBF == nil)
}

// Apply maps a raw point in calibration-viewport pixels to a calibrated point,
// clamped to the viewport when one is known.
func (c *Chain) Apply(p geometry.Point2D) geometry.Point2D {
	if c == nil {
		return p
	}
	if c.Affine != nil {
		p = fitting.ApplyAffine(p, *c.Affine)
	}
	if c.Quad != nil {
		p = fitting.ApplyQuadratic(p, *c.Quad)
	}
	if !c.Viewport.Valid() {
		return p
	}
	if c.RBF != nil {
		p = c.Viewport.ToPx(c.RBF.Apply(c.Viewport.ToUnit(p)))
	}
	return c.Viewport.Clamp(p)
}

// ApplyIn maps a raw point measured in the current viewport. The point is
// rescaled into the calibration viewport, mapped, and rescaled back, so a
// window resize keeps the calibration usable without refitting.
func (c *Chain) ApplyIn(p geometry.Point2D, current geometry.Viewport) geometry.Point2D {
	if c == nil || !c.Viewport.Valid() || !current.Valid() || current == c.Viewport {
		return c.Apply(p)
	}
	sx := c.Viewport.W / current.W
	sy := c.Viewport.H / current.H
	q := c.Apply(geometry.Point2D{X: p.X * sx, Y: p.Y * sy})
	return geometry.Point2D{X: q.X / sx, Y: q.Y / sy}
}

// Holder publishes the active chain. The zero value holds the identity.
type Holder struct {
	p atomic.Pointer[Chain]
}

// NewHolder returns a holder with the identity chain for v.
func NewHolder(v geometry.Viewport) *Holder {
	h := &Holder{}
	h.p.Store(Identity(v))
	return h
}

// Load returns the active chain. Never nil.
func (h *Holder) Load() *Chain {
	if c := h.p.Load(); c != nil {
		return c
	}
	return Identity(geometry.Viewport{})
}

// Swap publishes c and returns the previous chain.
func (h *Holder) Swap(c *Chain) *Chain {
	if c == nil {
		c = Identity(h.Load().Viewport)
	}
	return h.p.Swap(c)
}

// Reset publishes the identity chain for v.
func (h *Holder) Reset(v geometry.Viewport) {
	h.p.Store(Identity(v))
}

// Apply maps p through the active chain in the given viewport.
func (h *Holder) Apply(p geometry.Point2D, current geometry.Viewport) geometry.Point2D {
	return h.Load().ApplyIn(p, current)
}
