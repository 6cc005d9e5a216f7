package dwell

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gaze-tracer/pkg/geometry"
)

// ErrCrossOrigin is returned when the point falls in a frame whose content
// cannot be inspected.
var ErrCrossOrigin = errors.New("cross-origin frame")

// HitTester resolves the element under a page-space point. A nil element
// with a nil error means nothing is there.
type HitTester interface {
	HitTest(p geometry.Point2D) (*Element, error)
}

// HitTesterFunc adapts a function to HitTester.
type HitTesterFunc func(p geometry.Point2D) (*Element, error)

func (f HitTesterFunc) HitTest(p geometry.Point2D) (*Element, error) { return f(p) }

// Frame is an embedded sub-document. Rect is in page space; element rects
// inside the frame are in frame-document space.
type Frame struct {
	ID          string           `json:"id"`
	Rect        geometry.Rect    `json:"rect"`
	Scroll      geometry.Point2D `json:"scroll"`
	CrossOrigin bool             `json:"crossOrigin,omitempty"`
	Elements    []Element        `json:"elements"`
}

// Layout is a snapshot of the page the host pushed to the tracker.
type Layout struct {
	Elements []Element `json:"elements"`
	Frames   []Frame   `json:"frames,omitempty"`
}

// LayoutHitTester hit-tests against a registered layout snapshot. When no
// element contains the point, the nearest element within the proximity
// threshold is returned.
type LayoutHitTester struct {
	mu        sync.RWMutex
	layout    Layout
	proximity float64
}

// NewLayoutHitTester returns an empty hit tester.
func NewLayoutHitTester(proximity float64) *LayoutHitTester {
	return &LayoutHitTester{proximity: proximity}
}

// SetLayout replaces the layout.
func (h *LayoutHitTester) SetLayout(l Layout) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.layout = l
}

// SetProximity changes the nearest-element threshold.
func (h *LayoutHitTester) SetProximity(px float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.proximity = px
}

// HitTest implements HitTester. Frames are checked before the top-level
// document, later frames first.
func (h *LayoutHitTester) HitTest(p geometry.Point2D) (*Element, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i := len(h.layout.Frames) - 1; i >= 0; i-- {
		f := &h.layout.Frames[i]
		if !f.Rect.Contains(p) {
			continue
		}
		if f.CrossOrigin {
			return nil, fmt.Errorf("hit test frame %q: %w", f.ID, ErrCrossOrigin)
		}
		origin := geometry.Point2D{X: f.Rect.X, Y: f.Rect.Y}
		local := p.Sub(origin).Add(f.Scroll)
		if e := pick(f.Elements, local, h.proximity); e != nil {
			e.FrameID = f.ID
			e.FrameOffset = origin.Sub(f.Scroll)
			return e, nil
		}
	}
	return pick(h.layout.Elements, p, h.proximity), nil
}

// pick returns a copy of the innermost element containing p, else the
// nearest one within proximity.
func pick(elements []Element, p geometry.Point2D, proximity float64) *Element {
	best := -1
	bestArea := math.Inf(1)
	for i := range elements {
		if elements[i].Rect.Contains(p) && elements[i].Rect.Area() < bestArea {
			best, bestArea = i, elements[i].Rect.Area()
		}
	}
	if best < 0 && proximity > 0 {
		bestDist := proximity
		for i := range elements {
			if d := elements[i].Rect.DistanceTo(p); d <= bestDist {
				best, bestDist = i, d
			}
		}
	}
	if best < 0 {
		return nil
	}
	e := elements[best]
	return &e
}
