package gaze

import (
	"math"

	"gaze-tracer/pkg/geometry"
)

const (
	// DefaultMinConfidence drops samples the tracker is unsure about.
	DefaultMinConfidence = 0.4
	// CalibrationMinConfidence is the stricter bar for calibration bursts.
	CalibrationMinConfidence = 0.7

	boundsFactor = 2.0

	emaBaseAlpha       = 0.20
	emaConfidenceBonus = 0.15
	emaMaxAlpha        = 0.35
)

// Reason says why a sample was dropped.
type Reason int

const (
	Accepted Reason = iota
	DroppedNoFace
	DroppedNonFinite
	DroppedOutOfBounds
	DroppedLowConfidence
	DroppedOutOfOrder
	// DroppedPaused is reported by consumers that are paused; Filter never
	// returns it.
	DroppedPaused
)

func (r Reason) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case DroppedNoFace:
		return "no_face"
	case DroppedNonFinite:
		return "non_finite"
	case DroppedOutOfBounds:
		return "out_of_bounds"
	case DroppedLowConfidence:
		return "low_confidence"
	case DroppedOutOfOrder:
		return "out_of_order"
	case DroppedPaused:
		return "paused"
	}
	return "unknown"
}

// FilterConfig configures Filter.
type FilterConfig struct {
	MinConfidence float64
	// FlipX mirrors the x axis, for front cameras that report mirrored gaze.
	FlipX bool
}

// Filter validates raw samples before they are calibrated. It is not safe
// for concurrent use; the owning tracker serializes calls.
type Filter struct {
	cfg    FilterConfig
	lastTS int64
	seen   bool
}

// NewFilter returns a filter. A zero MinConfidence selects the default.
func NewFilter(cfg FilterConfig) *Filter {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	return &Filter{cfg: cfg}
}

// Configure swaps the thresholds, keeping the last accepted timestamp.
func (f *Filter) Configure(cfg FilterConfig) {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	f.cfg = cfg
}

// Accept returns the sample with FlipX applied, or the reason it was dropped.
// A sample absent a confidence value is treated as fully confident. Samples
// older than the last accepted one are dropped so downstream timing stays
// monotonic.
func (f *Filter) Accept(s Sample, v geometry.Viewport) (Sample, Reason) {
	if s.NoFace {
		return s, DroppedNoFace
	}
	if !s.Point().IsFinite() {
		return s, DroppedNonFinite
	}
	if f.cfg.FlipX && v.Valid() {
		s.X = v.W - s.X
	}
	if v.Valid() && (s.X < 0 || s.X > v.W*boundsFactor || s.Y < 0 || s.Y > v.H*boundsFactor) {
		return s, DroppedOutOfBounds
	}
	if s.ConfidenceOr(1) < f.cfg.MinConfidence {
		return s, DroppedLowConfidence
	}
	if f.seen && s.Timestamp < f.lastTS {
		return s, DroppedOutOfOrder
	}
	f.seen = true
	f.lastTS = s.Timestamp
	return s, Accepted
}

// Reset forgets the last accepted timestamp.
func (f *Filter) Reset() {
	f.seen = false
	f.lastTS = 0
}

// Smoother is a confidence-adaptive exponential moving average: confident
// samples move the estimate faster.
type Smoother struct {
	ema *geometry.Point2D
}

// Smooth folds p into the average and returns the new estimate.
func (s *Smoother) Smooth(p geometry.Point2D, confidence float64) geometry.Point2D {
	if s.ema == nil {
		s.ema = &geometry.Point2D{X: p.X, Y: p.Y}
		return *s.ema
	}
	alpha := math.Min(emaMaxAlpha, emaBaseAlpha+confidence*emaConfidenceBonus)
	s.ema.X = alpha*p.X + (1-alpha)*s.ema.X
	s.ema.Y = alpha*p.Y + (1-alpha)*s.ema.Y
	return *s.ema
}

// Reset drops the running average.
func (s *Smoother) Reset() {
	s.ema = nil
}

// IsDwelled reports whether the last k points all lie within radius of their
// centroid. Used to gate validation sampling on a steady gaze.
func IsDwelled(points []geometry.Point2D, k int, radius float64) bool {
	if k <= 0 || len(points) < k {
		return false
	}
	tail := points[len(points)-k:]
	c := geometry.Centroid(tail)
	for _, p := range tail {
		if p.Distance(c) > radius {
			return false
		}
	}
	return true
}
