// Package tracker wires the gaze pipeline together: source, filter,
// calibration, smoothing, dwell detection and calibration sessions.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"gaze-tracer/internal/calibration"
	"gaze-tracer/internal/dispatch"
	"gaze-tracer/internal/dwell"
	"gaze-tracer/internal/gaze"
	"gaze-tracer/internal/metrics"
	"gaze-tracer/internal/session"
	"gaze-tracer/internal/store"
	"gaze-tracer/pkg/geometry"

	"go.uber.org/zap"
)

// ErrNoGaze is returned when a calibration click arrives before any usable
// gaze sample.
var ErrNoGaze = errors.New("no gaze sample to pair with the click")

const (
	staleCheckInterval = time.Second

	// A gaze is steady when the last steadyWindow points stay within
	// steadyRadiusPx of their centroid.
	steadyWindow   = 15
	steadyRadiusPx = 24
)

// EventType identifies tracker events.
type EventType int

const (
	EventDwell EventType = iota
	EventDwellCleared
	EventCalibrationPoint
	EventCalibrated
	EventCalibrationSkipped
	EventStale
	EventPaused
	EventResumed
	EventLayoutChanged
)

// EventListener is called when an event occurs.
type EventListener func(data interface{})

// Options configures a Tracker.
type Options struct {
	Viewport   geometry.Viewport
	Filter     gaze.FilterConfig
	Smoothing  bool
	StaleAfter time.Duration
	Dwell      dwell.Config
	Session    session.Config
	Store      store.Store
	Dispatcher dispatch.Dispatcher
	Metrics    *metrics.Recorder
	Logger     *zap.Logger
	// Now overrides the clock, for replays.
	Now func() time.Time
}

// Tracker is the core API: raw samples in, calibrated points and dwell
// events out.
type Tracker struct {
	mu          sync.RWMutex
	viewport    geometry.Viewport
	calibrating bool
	paused      bool
	lastRaw     *gaze.Sample
	lastPoint   *geometry.Point2D
	recent      []geometry.Point2D

	filter    *gaze.Filter
	smoother  gaze.Smoother
	smoothing bool

	holder   *calibration.Holder
	layout   *dwell.LayoutHitTester
	detector *dwell.Detector
	session  *session.Controller
	stale    *gaze.StaleMonitor

	sources    map[int]gaze.Source
	nextSource int
	dispatcher dispatch.Dispatcher
	metrics    *metrics.Recorder
	logger     *zap.Logger
	now        func() time.Time

	listeners map[EventType][]EventListener
}

// New creates a tracker with the identity calibration.
func New(opts Options) *Tracker {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = dispatch.Multi{}
	}

	t := &Tracker{
		viewport:   opts.Viewport,
		filter:     gaze.NewFilter(opts.Filter),
		smoothing:  opts.Smoothing,
		holder:     calibration.NewHolder(opts.Viewport),
		layout:     dwell.NewLayoutHitTester(opts.Dwell.ProximityThreshold),
		dispatcher: dispatcher,
		metrics:    opts.Metrics,
		logger:     logger,
		now:        time.Now,
		sources:    make(map[int]gaze.Source),
		listeners:  make(map[EventType][]EventListener),
	}
	if opts.Now != nil {
		t.now = opts.Now
	}
	t.stale = gaze.NewStaleMonitor(opts.StaleAfter, t.now())
	t.detector = dwell.NewDetector(opts.Dwell, t.layout, logger)
	t.detector.SetClock(t.now)
	t.detector.OnEffect(t.onDwellEffect)
	t.session = session.NewController(opts.Session, t.holder, opts.Store, logger)
	t.session.OnPresent(t.onPresent)
	return t
}

// On registers an event listener for the specified event type.
func (t *Tracker) On(event EventType, listener EventListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners[event] = append(t.listeners[event], listener)
}

// Emit triggers all listeners for the specified event type.
func (t *Tracker) Emit(event EventType, data interface{}) {
	t.mu.RLock()
	listeners := t.listeners[event]
	t.mu.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}

// Viewport returns the current viewport.
func (t *Tracker) Viewport() geometry.Viewport {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.viewport
}

// SetViewport records a resize. The active calibration is rescaled on the
// fly rather than discarded.
func (t *Tracker) SetViewport(v geometry.Viewport) {
	if !v.Valid() {
		return
	}
	t.mu.Lock()
	t.viewport = v
	t.mu.Unlock()
}

// SetPolicy applies reloaded filter, smoothing and dwell settings. The active
// calibration and any dwell candidate are kept.
func (t *Tracker) SetPolicy(filter gaze.FilterConfig, smoothing bool, dw dwell.Config) {
	t.mu.Lock()
	t.filter.Configure(filter)
	if t.smoothing && !smoothing {
		t.smoother.Reset()
	}
	t.smoothing = smoothing
	t.mu.Unlock()

	t.layout.SetProximity(dw.ProximityThreshold)
	t.detector.SetConfig(dw)
}

// SetLayout replaces the hit-test layout.
func (t *Tracker) SetLayout(l dwell.Layout) {
	t.layout.SetLayout(l)
	t.Emit(EventLayoutChanged, len(l.Elements))
}

// Holder exposes the active calibration.
func (t *Tracker) Holder() *calibration.Holder {
	return t.holder
}

// Detector exposes the dwell detector.
func (t *Tracker) Detector() *dwell.Detector {
	return t.detector
}

// Session exposes the calibration controller.
func (t *Tracker) Session() *session.Controller {
	return t.session
}

// ApplyTransform maps a raw point through the active calibration.
func (t *Tracker) ApplyTransform(raw geometry.Point2D) geometry.Point2D {
	return t.holder.Apply(raw, t.Viewport())
}

// FeedGazeSample runs one raw sample through the pipeline. It returns the
// calibrated (and optionally smoothed) point and the filter outcome. While a
// calibration is running samples are kept for click pairing but not passed
// to the dwell detector.
func (t *Tracker) FeedGazeSample(s gaze.Sample) (geometry.Point2D, gaze.Reason) {
	now := t.now()

	t.mu.Lock()
	if t.paused {
		t.mu.Unlock()
		t.metrics.Sample(context.Background(), gaze.DroppedPaused.String())
		return geometry.Point2D{}, gaze.DroppedPaused
	}
	t.stale.Touch(now)
	v := t.viewport
	accepted, reason := t.filter.Accept(s, v)
	if reason != gaze.Accepted {
		calibrating := t.calibrating
		t.mu.Unlock()
		t.metrics.Sample(context.Background(), reason.String())
		if reason == gaze.DroppedNoFace && !calibrating {
			t.detector.Lost()
		}
		return geometry.Point2D{}, reason
	}

	p := t.holder.Apply(accepted.Point(), v)
	if t.smoothing {
		p = t.smoother.Smooth(p, accepted.ConfidenceOr(1))
	}
	t.lastRaw = &accepted
	t.lastPoint = &p
	if len(t.recent) == steadyWindow {
		t.recent = append(t.recent[:0], t.recent[1:]...)
	}
	t.recent = append(t.recent, p)
	calibrating := t.calibrating
	t.mu.Unlock()

	t.metrics.Sample(context.Background(), reason.String())
	if !calibrating {
		t.detector.Feed(p, now)
	}
	return p, reason
}

// LastPoint returns the latest calibrated point.
func (t *Tracker) LastPoint() (geometry.Point2D, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastPoint == nil {
		return geometry.Point2D{}, false
	}
	return *t.lastPoint, true
}

// Steady reports whether the recent calibrated gaze has settled, which is
// when validation samples are worth taking.
func (t *Tracker) Steady() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return gaze.IsDwelled(t.recent, steadyWindow, steadyRadiusPx)
}

// CheckDwell runs one detector tick.
func (t *Tracker) CheckDwell(now time.Time) []dwell.Effect {
	return t.detector.Check(now)
}

// DismissDwell clears any dwell candidate.
func (t *Tracker) DismissDwell() {
	t.detector.Dismiss()
}

// ActiveDwell returns the current dwell event, or nil.
func (t *Tracker) ActiveDwell() *dwell.Event {
	return t.detector.Active()
}

// LoadCalibration loads the stored calibration for key. Failures leave the
// identity active and are returned for the caller to report.
func (t *Tracker) LoadCalibration(ctx context.Context, key store.Key) error {
	_, err := t.session.LoadOrIdentity(ctx, key, t.Viewport())
	return err
}

// StartCalibration begins a calibration at viewport v. points may be nil for
// the configured layout.
func (t *Tracker) StartCalibration(key store.Key, v geometry.Viewport, points []session.CalibrationPoint) error {
	if err := t.session.Start(key, v, points); err != nil {
		return err
	}
	t.mu.Lock()
	t.viewport = v
	t.calibrating = true
	t.mu.Unlock()
	t.detector.Dismiss()
	return nil
}

// RecordCalibrationClick pairs a click on target index with a raw sample. A
// nil sample uses the latest accepted raw sample.
func (t *Tracker) RecordCalibrationClick(index int, raw *gaze.Sample) error {
	if raw == nil {
		t.mu.RLock()
		raw = t.lastRaw
		t.mu.RUnlock()
		if raw == nil {
			return ErrNoGaze
		}
	}
	return t.session.RecordClick(index, *raw)
}

// AddCalibrationBurst records a burst of raw samples for target index.
func (t *Tracker) AddCalibrationBurst(index int, burst []gaze.Sample) error {
	return t.session.AddBurst(index, burst)
}

// CompleteCalibration fits and publishes the calibration. A persistence
// error is returned but the fitted calibration stays active.
func (t *Tracker) CompleteCalibration(ctx context.Context) (session.Result, error) {
	_, res, err := t.session.Complete(ctx)
	if errors.Is(err, session.ErrNotPresenting) {
		return res, err
	}

	t.mu.Lock()
	t.calibrating = false
	t.smoother.Reset()
	t.mu.Unlock()

	t.metrics.Calibration(ctx, "complete", res.Duration)
	t.dispatcher.Calibrated(res)
	t.Emit(EventCalibrated, res)
	return res, err
}

// SkipCalibration abandons calibration and uses the identity.
func (t *Tracker) SkipCalibration() {
	t.session.Skip()
	t.mu.Lock()
	t.calibrating = false
	t.smoother.Reset()
	t.mu.Unlock()

	t.metrics.Calibration(context.Background(), "skipped", 0)
	t.Emit(EventCalibrationSkipped, nil)
}

// Calibrating reports whether a calibration session is collecting samples.
func (t *Tracker) Calibrating() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.calibrating
}

// Attach subscribes the tracker to src. Any number of sources may be
// attached; each follows Pause and Resume. The returned function detaches it.
func (t *Tracker) Attach(src gaze.Source) func() {
	t.mu.Lock()
	id := t.nextSource
	t.nextSource++
	t.sources[id] = src
	paused := t.paused
	t.mu.Unlock()
	if paused {
		src.Pause()
	}

	unsubscribe := src.Subscribe(func(s gaze.Sample) { t.FeedGazeSample(s) })
	return func() {
		unsubscribe()
		t.mu.Lock()
		delete(t.sources, id)
		t.mu.Unlock()
	}
}

func (t *Tracker) attached() []gaze.Source {
	out := make([]gaze.Source, 0, len(t.sources))
	for _, src := range t.sources {
		out = append(out, src)
	}
	return out
}

// Pause stops consuming samples. Attached sources are paused and samples fed
// directly are dropped with gaze.DroppedPaused.
func (t *Tracker) Pause() {
	t.mu.Lock()
	sources := t.attached()
	t.paused = true
	t.mu.Unlock()
	for _, src := range sources {
		src.Pause()
	}
	t.detector.Lost()
	t.Emit(EventPaused, nil)
}

// Resume restarts sample consumption.
func (t *Tracker) Resume() {
	t.mu.Lock()
	sources := t.attached()
	t.paused = false
	t.mu.Unlock()
	for _, src := range sources {
		src.Resume()
	}
	t.stale.Touch(t.now())
	t.Emit(EventResumed, nil)
}

// Paused reports whether the tracker is paused.
func (t *Tracker) Paused() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.paused
}

// CheckStale reports a stale signal once per episode. A calibration in
// progress is aborted, since its remaining clicks could not be paired.
func (t *Tracker) CheckStale(now time.Time) error {
	if t.Paused() {
		return nil
	}
	err := t.stale.Check(now)
	if err == nil {
		return nil
	}
	t.logger.Warn("gaze signal stale", zap.Error(err))
	t.detector.Lost()
	t.mu.Lock()
	t.recent = t.recent[:0]
	calibrating := t.calibrating
	t.calibrating = false
	t.mu.Unlock()
	if calibrating {
		t.session.Abort()
		t.Emit(EventCalibrationSkipped, err)
	}
	t.dispatcher.Stale(err)
	t.Emit(EventStale, err)
	return err
}

// Run drives the dwell tick and the stale check until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = t.detector.Run(ctx)
	}()

	ticker := time.NewTicker(staleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			_ = t.CheckStale(t.now())
		}
	}
}

func (t *Tracker) onDwellEffect(e dwell.Effect) {
	switch e := e.(type) {
	case dwell.EmitDwell:
		t.metrics.Dwell(context.Background(), e.Event.ElementType)
		t.dispatcher.DwellDetected(e.Event)
		t.Emit(EventDwell, e.Event)
	case dwell.ClearDwell:
		t.dispatcher.DwellCleared()
		t.Emit(EventDwellCleared, nil)
	}
}

func (t *Tracker) onPresent(p session.CalibrationPoint, target geometry.Point2D) {
	t.dispatcher.PresentPoint(p, target)
	t.Emit(EventCalibrationPoint, dispatch.PointPayload{Point: p, Target: target})
}
