// Package session runs the interactive calibration flow: presenting targets,
// collecting click-confirmed gaze samples, fitting, and publishing the result.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"gaze-tracer/internal/calibration"
	"gaze-tracer/internal/fitting"
	"gaze-tracer/internal/gaze"
	"gaze-tracer/internal/store"
	"gaze-tracer/pkg/geometry"

	"go.uber.org/zap"
)

var (
	ErrNotPresenting       = errors.New("calibration is not presenting targets")
	ErrUnknownPoint        = errors.New("unknown calibration point")
	ErrPointFull           = errors.New("calibration point already has all its samples")
	ErrInvalidViewport     = errors.New("invalid viewport")
	ErrInvalidSample       = errors.New("invalid calibration sample")
	ErrEmptyBurst          = errors.New("no usable samples in burst")
	ErrFingerprintMismatch = errors.New("stored calibration belongs to a different device")
)

const (
	DefaultClicksPerPoint = 5
	DefaultTargetMedianPx = 35.0
	DefaultTargetP95Px    = 75.0
)

// Phase is the controller state.
type Phase int

const (
	Idle Phase = iota
	Presenting
	Fitting
	Complete
	Skipped
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Presenting:
		return "presenting"
	case Fitting:
		return "fitting"
	case Complete:
		return "complete"
	case Skipped:
		return "skipped"
	}
	return "unknown"
}

// Config configures a Controller.
type Config struct {
	Points         []CalibrationPoint
	ClicksPerPoint int
	RANSAC         fitting.RANSACOptions

	// Accuracy targets; a fit missing either one gets an RBF refinement when
	// EnableRBF is set.
	TargetMedianPx float64
	TargetP95Px    float64
	EnableRBF      bool
	RBFSigma       float64

	// BurstMinConfidence drops burst samples below this confidence.
	BurstMinConfidence float64

	AllowFingerprintMismatch bool
}

func (c Config) withDefaults() Config {
	if len(c.Points) == 0 {
		c.Points = DefaultPoints()
	}
	if c.ClicksPerPoint <= 0 {
		c.ClicksPerPoint = DefaultClicksPerPoint
	}
	if c.TargetMedianPx <= 0 {
		c.TargetMedianPx = DefaultTargetMedianPx
	}
	if c.TargetP95Px <= 0 {
		c.TargetP95Px = DefaultTargetP95Px
	}
	if c.RBFSigma <= 0 {
		c.RBFSigma = fitting.DefaultRBFSigma
	}
	if c.BurstMinConfidence <= 0 {
		c.BurstMinConfidence = gaze.CalibrationMinConfidence
	}
	return c
}

// PointStatus reports collection progress for one target.
type PointStatus struct {
	Point  CalibrationPoint `json:"point"`
	Target geometry.Point2D `json:"target"`
	Clicks int              `json:"clicks"`
}

// Status is a snapshot of the controller.
type Status struct {
	Phase    string            `json:"phase"`
	Current  int               `json:"current"`
	Viewport geometry.Viewport `json:"viewport"`
	Points   []PointStatus     `json:"points"`
	Result   *Result           `json:"result,omitempty"`
}

// PresentFunc is called whenever a new target should be shown.
type PresentFunc func(p CalibrationPoint, target geometry.Point2D)

// Controller drives one calibration at a time and publishes fitted chains
// into a Holder.
type Controller struct {
	mu       sync.Mutex
	cfg      Config
	holder   *calibration.Holder
	store    store.Store
	logger   *zap.Logger
	present  PresentFunc
	now      func() time.Time
	phase    Phase
	key      store.Key
	viewport geometry.Viewport
	points   []CalibrationPoint
	samples  [][]Sample
	current  int
	result   *Result
}

// NewController returns an idle controller. st may be nil to disable
// persistence.
func NewController(cfg Config, holder *calibration.Holder, st store.Store, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if holder == nil {
		holder = &calibration.Holder{}
	}
	return &Controller{
		cfg:    cfg.withDefaults(),
		holder: holder,
		store:  st,
		logger: logger.Named("calibration"),
		now:    time.Now,
	}
}

// OnPresent registers the target presentation callback.
func (c *Controller) OnPresent(fn PresentFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.present = fn
}

// Holder returns the holder fitted chains are published to.
func (c *Controller) Holder() *calibration.Holder {
	return c.holder
}

// Start begins a calibration for key at viewport v, discarding any samples
// from a previous run. points overrides the configured layout when non-empty.
func (c *Controller) Start(key store.Key, v geometry.Viewport, points []CalibrationPoint) error {
	if !v.Valid() {
		return fmt.Errorf("%w: %vx%v", ErrInvalidViewport, v.W, v.H)
	}
	if len(points) == 0 {
		points = c.cfg.Points
	}

	c.mu.Lock()
	c.key = key
	c.viewport = v
	c.points = indexed(percentages(points))
	c.samples = make([][]Sample, len(c.points))
	c.current = 0
	c.phase = Presenting
	c.result = nil
	first := c.points[0]
	present := c.present
	c.mu.Unlock()

	c.logger.Info("calibration started",
		zap.String("user", key.UserID),
		zap.Int("points", len(points)),
		zap.Float64("viewport_w", v.W),
		zap.Float64("viewport_h", v.H))
	if present != nil {
		present(first, first.Resolve(v))
	}
	return nil
}

// RecordClick records one click-confirmed raw gaze sample for the target at
// index. Any known target that still has room accepts a click, so a late
// click for an earlier target is not lost.
func (c *Controller) RecordClick(index int, raw gaze.Sample) error {
	if raw.NoFace || !raw.Point().IsFinite() {
		return ErrInvalidSample
	}
	return c.record(index, Sample{Raw: raw.Point(), Weight: 1, Timestamp: raw.Timestamp})
}

// AddBurst reduces a burst of raw samples captured for one click to a single
// sample: low-confidence samples are dropped, the rest are reduced to their
// median, and the sample is weighted by 1/(1+MAD) so jittery bursts count less.
func (c *Controller) AddBurst(index int, burst []gaze.Sample) error {
	var pts []geometry.Point2D
	var last int64
	for _, s := range burst {
		if s.NoFace || !s.Point().IsFinite() || s.ConfidenceOr(1) < c.cfg.BurstMinConfidence {
			continue
		}
		pts = append(pts, s.Point())
		last = max(last, s.Timestamp)
	}
	if len(pts) == 0 {
		return ErrEmptyBurst
	}
	return c.record(index, Sample{
		Raw:       geometry.MedianPoint(pts),
		Weight:    1 / (1 + geometry.MAD(pts)),
		Timestamp: last,
	})
}

func (c *Controller) record(index int, s Sample) error {
	c.mu.Lock()
	if c.phase != Presenting {
		c.mu.Unlock()
		return ErrNotPresenting
	}
	if index < 0 || index >= len(c.points) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownPoint, index)
	}
	if len(c.samples[index]) >= c.cfg.ClicksPerPoint {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrPointFull, index)
	}

	s.PointIndex = index
	s.Target = c.points[index].Resolve(c.viewport)
	c.samples[index] = append(c.samples[index], s)

	var next *CalibrationPoint
	if index == c.current && len(c.samples[index]) == c.cfg.ClicksPerPoint {
		if i, ok := c.nextUnfilled(); ok {
			c.current = i
			next = &c.points[i]
		}
	}
	present, v := c.present, c.viewport
	c.mu.Unlock()

	if next != nil && present != nil {
		present(*next, next.Resolve(v))
	}
	return nil
}

func (c *Controller) nextUnfilled() (int, bool) {
	n := len(c.points)
	for k := 1; k <= n; k++ {
		i := (c.current + k) % n
		if len(c.samples[i]) < c.cfg.ClicksPerPoint {
			return i, true
		}
	}
	return 0, false
}

// Ready reports whether every target has all its samples.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != Presenting {
		return false
	}
	for _, s := range c.samples {
		if len(s) < c.cfg.ClicksPerPoint {
			return false
		}
	}
	return true
}

// Complete fits the collected samples, publishes the chain and persists it.
// It may be called before every target is filled; too few samples fall back
// to the identity. A persistence failure is returned, but the fitted chain
// stays active.
func (c *Controller) Complete(ctx context.Context) (*calibration.Chain, Result, error) {
	c.mu.Lock()
	if c.phase != Presenting {
		c.mu.Unlock()
		return nil, Result{}, ErrNotPresenting
	}
	c.phase = Fitting
	var all []Sample
	for _, s := range c.samples {
		all = append(all, s...)
	}
	key, v, cfg := c.key, c.viewport, c.cfg
	c.mu.Unlock()

	if cfg.RANSAC.Rand == nil {
		cfg.RANSAC.Rand = rand.New(rand.NewSource(c.now().UnixNano()))
	}
	chain, res := Fit(all, v, cfg)

	c.mu.Lock()
	if c.phase != Fitting {
		// Skipped while fitting.
		c.mu.Unlock()
		return c.holder.Load(), res, ErrNotPresenting
	}
	c.holder.Swap(chain)
	c.phase = Complete
	c.result = &res
	c.mu.Unlock()

	c.logger.Info("calibration complete",
		zap.Int("samples", res.Samples),
		zap.Int("inliers", res.Inliers),
		zap.Bool("quadratic", res.Quadratic),
		zap.Bool("rbf", res.RBF),
		zap.Float64("accuracy_px", res.Accuracy),
		zap.Duration("took", res.Duration))

	if err := c.persist(ctx, key, chain, res); err != nil {
		c.logger.Error("failed to persist calibration", zap.String("key", key.String()), zap.Error(err))
		return chain, res, err
	}
	return chain, res, nil
}

func (c *Controller) persist(ctx context.Context, key store.Key, chain *calibration.Chain, res Result) error {
	if c.store == nil || key.UserID == "" || key.Fingerprint == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("persist calibration: %w", err)
	}
	if err := c.store.Save(ctx, key, store.NewRecord(key, chain, res.Accuracy, c.now())); err != nil {
		return fmt.Errorf("persist calibration: %w", err)
	}
	return nil
}

// Skip abandons calibration and publishes the identity. Safe in any phase.
func (c *Controller) Skip() {
	c.mu.Lock()
	v := c.viewport
	c.phase = Skipped
	c.mu.Unlock()

	c.holder.Reset(v)
	c.logger.Info("calibration skipped")
}

// Abort is Skip under the name used when calibration is cancelled externally.
func (c *Controller) Abort() {
	c.Skip()
}

// LoadOrIdentity loads the stored calibration for key and publishes it.
// When key has no record, the user's latest record from any device is
// consulted. A missing record publishes the identity without error. A record
// from a different device publishes the identity and returns ErrFingerprintMismatch
// unless mismatches are allowed. Other store failures publish the identity
// and are returned.
func (c *Controller) LoadOrIdentity(ctx context.Context, key store.Key, v geometry.Viewport) (*calibration.Chain, error) {
	identity := calibration.Identity(v)
	if c.store == nil {
		c.holder.Swap(identity)
		return identity, nil
	}

	rec, err := c.store.Load(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		// Nothing for this device; the user may have calibrated on another.
		if ul, ok := c.store.(store.UserLoader); ok {
			rec, err = ul.LoadLatest(ctx, key.UserID)
		}
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.holder.Swap(identity)
		return identity, nil
	case err != nil:
		c.holder.Swap(identity)
		c.logger.Error("failed to load calibration", zap.String("key", key.String()), zap.Error(err))
		return identity, fmt.Errorf("load calibration: %w", err)
	}

	if rec.DeviceFingerprint != key.Fingerprint && !c.cfg.AllowFingerprintMismatch {
		c.logger.Warn("stored calibration fingerprint mismatch",
			zap.String("user", key.UserID),
			zap.String("want", key.Fingerprint),
			zap.String("got", rec.DeviceFingerprint))
		c.holder.Swap(identity)
		return identity, ErrFingerprintMismatch
	}

	chain := rec.Chain()
	if !chain.Viewport.Valid() {
		chain.Viewport = v
	}
	c.holder.Swap(chain)
	c.logger.Info("calibration loaded",
		zap.String("user", key.UserID),
		zap.Float64("accuracy_px", rec.AccuracyEstimate),
		zap.Time("created", rec.CreatedAt))
	return chain, nil
}

// Status returns a snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{Phase: c.phase.String(), Current: c.current, Viewport: c.viewport, Result: c.result}
	for i, p := range c.points {
		st.Points = append(st.Points, PointStatus{Point: p, Target: p.Resolve(c.viewport), Clicks: len(c.samples[i])})
	}
	return st
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Samples returns a copy of every collected sample.
func (c *Controller) Samples() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Sample
	for _, s := range c.samples {
		out = append(out, s...)
	}
	return out
}

func percentages(points []CalibrationPoint) [][2]float64 {
	pos := make([][2]float64, len(points))
	for i, p := range points {
		pos[i] = [2]float64{p.XPercent, p.YPercent}
	}
	return pos
}
