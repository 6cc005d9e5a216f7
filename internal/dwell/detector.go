package dwell

import (
	"context"
	"sync"
	"time"

	"gaze-tracer/pkg/geometry"

	"go.uber.org/zap"
)

// Listener receives effects produced by the detector. Listeners run on the
// goroutine that triggered the transition, outside the detector lock.
type Listener func(Effect)

// Detector owns one dwell state machine.
type Detector struct {
	mu       sync.Mutex
	cfg      Config
	hit      HitTester
	state    State
	latest   *geometry.Point2D
	latestAt time.Time

	listeners []Listener
	logger    *zap.Logger
	now       func() time.Time
}

// NewDetector returns an idle detector. hit may be nil, in which case every
// gaze point resolves to no target.
func NewDetector(cfg Config, hit HitTester, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		cfg:    cfg.withDefaults(),
		hit:    hit,
		state:  Idle{},
		logger: logger.Named("dwell"),
		now:    time.Now,
	}
}

// Config returns the effective policy.
func (d *Detector) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// SetConfig replaces the policy. The current candidate is kept; the new
// thresholds apply from the next input. A changed CheckInterval takes effect
// on the next Run.
func (d *Detector) SetConfig(cfg Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg.withDefaults()
}

// SetClock replaces the time source Run stamps its ticks with. It must match
// the clock Feed timestamps come from.
func (d *Detector) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// OnEffect registers a listener.
func (d *Detector) OnEffect(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Feed records the latest calibrated gaze point. The next Check hit-tests it.
func (d *Detector) Feed(p geometry.Point2D, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latest = &p
	d.latestAt = at
}

// Lost records that the tracker currently sees no face.
func (d *Detector) Lost() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latest = nil
}

// Check runs one tick. A gaze point older than the gaze timeout counts as no
// gaze.
func (d *Detector) Check(now time.Time) []Effect {
	d.mu.Lock()
	var in Input = NoGaze{Now: now}
	if d.latest != nil && now.Sub(d.latestAt) <= d.cfg.GazeTimeout {
		in = Gaze{Point: *d.latest, Now: now, Hit: d.hitTest(*d.latest)}
	}
	effects := d.apply(in)
	listeners := d.listeners
	d.mu.Unlock()

	d.notify(listeners, effects)
	return effects
}

// Dismiss forces the detector idle. Dismissing an idle detector does nothing.
func (d *Detector) Dismiss() []Effect {
	d.mu.Lock()
	effects := d.apply(Dismiss{})
	listeners := d.listeners
	d.mu.Unlock()

	d.notify(listeners, effects)
	return effects
}

// Active returns the current dwell event, or nil.
func (d *Detector) Active() *Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.state.(Dwelling); ok {
		ev := s.Event
		return &ev
	}
	return nil
}

// IsDwelling reports whether a candidate is being tracked, whether or not
// its event has fired yet.
func (d *Detector) IsDwelling() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := targetOf(d.state)
	return ok
}

// State returns the current state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Run ticks the detector every CheckInterval until ctx is done.
func (d *Detector) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.Config().CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.mu.Lock()
			now := d.now
			d.mu.Unlock()
			d.Check(now())
		}
	}
}

func (d *Detector) apply(in Input) []Effect {
	next, effects := Reduce(d.state, in, d.cfg)
	d.state = next
	return effects
}

func (d *Detector) hitTest(p geometry.Point2D) *Element {
	if d.hit == nil {
		return nil
	}
	e, err := d.hit.HitTest(p)
	if err != nil {
		d.logger.Debug("hit test failed", zap.Float64("x", p.X), zap.Float64("y", p.Y), zap.Error(err))
		return nil
	}
	return e
}

func (d *Detector) notify(listeners []Listener, effects []Effect) {
	for _, eff := range effects {
		if ev, ok := eff.(EmitDwell); ok {
			d.logger.Info("dwell detected",
				zap.String("element", ev.Event.ElementType),
				zap.String("id", ev.Event.ElementID),
				zap.Int64("dwell_ms", ev.Event.DwellMs))
		}
		for _, l := range listeners {
			l(eff)
		}
	}
}
