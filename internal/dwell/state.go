// Package dwell detects sustained gaze on interactive UI elements.
//
// The detector is a three-state machine (Idle, Accumulating, Dwelling) driven
// by a pure reducer. Detector wraps the reducer with hit testing, a tick loop
// and listener fan-out.
package dwell

import (
	"fmt"
	"strings"
	"time"

	"gaze-tracer/pkg/geometry"
)

const (
	DefaultDwellThreshold     = 2000 * time.Millisecond
	DefaultProximityThreshold = 50.0
	DefaultGazeTimeout        = 500 * time.Millisecond
	DefaultCheckInterval      = 100 * time.Millisecond
)

// Config holds the dwell policy parameters.
type Config struct {
	DwellThreshold     time.Duration
	ProximityThreshold float64
	GazeTimeout        time.Duration
	CheckInterval      time.Duration
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		DwellThreshold:     DefaultDwellThreshold,
		ProximityThreshold: DefaultProximityThreshold,
		GazeTimeout:        DefaultGazeTimeout,
		CheckInterval:      DefaultCheckInterval,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DwellThreshold <= 0 {
		c.DwellThreshold = d.DwellThreshold
	}
	if c.ProximityThreshold < 0 {
		c.ProximityThreshold = d.ProximityThreshold
	}
	if c.GazeTimeout <= 0 {
		c.GazeTimeout = d.GazeTimeout
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	return c
}

// Target is the current dwell candidate.
type Target struct {
	Element      Element
	ElementID    string
	StartTime    time.Time
	DwellTime    time.Duration
	LastGazeTime time.Time
}

func newTarget(e Element, now time.Time) Target {
	p := e.Properties
	return Target{
		Element:      e,
		ElementID:    fmt.Sprintf("%s-%s-%s-%d", strings.ToUpper(p.TagName), p.ID, p.ClassName, now.UnixMilli()),
		StartTime:    now,
		LastGazeTime: now,
	}
}

// Event is emitted once per dwell.
type Event struct {
	ElementID         string        `json:"elementId"`
	DwellMs           int64         `json:"dwellTime"`
	ElementType       string        `json:"elementType"`
	ElementText       string        `json:"elementText"`
	ElementProperties Properties    `json:"elementProperties"`
	Context           Context       `json:"context"`
	BoundingRect      geometry.Rect `json:"boundingRect"`
	Frame             string        `json:"frame,omitempty"`
	At                time.Time     `json:"at"`
}

func newEvent(t Target, now time.Time) Event {
	e := t.Element
	return Event{
		ElementID:         t.ElementID,
		DwellMs:           t.DwellTime.Milliseconds(),
		ElementType:       e.Tag(),
		ElementText:       strings.TrimSpace(e.Properties.TextContent),
		ElementProperties: e.Properties,
		Context:           e.Context,
		BoundingRect:      e.PageRect(),
		Frame:             e.FrameID,
		At:                now,
	}
}

// State is one of Idle, Accumulating or Dwelling.
type State interface{ isState() }

type Idle struct{}

type Accumulating struct{ Target Target }

type Dwelling struct {
	Target Target
	Event  Event
}

func (Idle) isState()         {}
func (Accumulating) isState() {}
func (Dwelling) isState()     {}

// Input drives the reducer.
type Input interface{ isInput() }

// Gaze is a calibrated gaze point with its hit-test result. Hit is nil when
// nothing was under the point.
type Gaze struct {
	Point geometry.Point2D
	Now   time.Time
	Hit   *Element
}

// NoGaze is a tick with no usable gaze point.
type NoGaze struct{ Now time.Time }

// Dismiss clears the candidate unconditionally.
type Dismiss struct{}

func (Gaze) isInput()    {}
func (NoGaze) isInput()  {}
func (Dismiss) isInput() {}

// Effect is a side effect requested by the reducer.
type Effect interface{ isEffect() }

type EmitDwell struct{ Event Event }

type ClearDwell struct{}

func (EmitDwell) isEffect()  {}
func (ClearDwell) isEffect() {}

// Reduce computes the next state. It never blocks and has no side effects.
func Reduce(s State, in Input, cfg Config) (State, []Effect) {
	cfg = cfg.withDefaults()
	if s == nil {
		s = Idle{}
	}

	switch in := in.(type) {
	case Dismiss:
		if _, ok := s.(Dwelling); ok {
			return Idle{}, []Effect{ClearDwell{}}
		}
		return Idle{}, nil

	case NoGaze:
		return expire(s, in.Now, cfg)

	case Gaze:
		if !in.Hit.Interactive() {
			return expire(s, in.Now, cfg)
		}
		cur, ok := targetOf(s)
		if !ok || cur.Element.Key != in.Hit.Key {
			var effects []Effect
			if _, dwelling := s.(Dwelling); dwelling {
				effects = append(effects, ClearDwell{})
			}
			return Accumulating{Target: newTarget(*in.Hit, in.Now)}, effects
		}

		cur.DwellTime = in.Now.Sub(cur.StartTime)
		cur.LastGazeTime = in.Now
		if d, dwelling := s.(Dwelling); dwelling {
			d.Target = cur
			return d, nil
		}
		if cur.DwellTime >= cfg.DwellThreshold {
			ev := newEvent(cur, in.Now)
			return Dwelling{Target: cur, Event: ev}, []Effect{EmitDwell{Event: ev}}
		}
		return Accumulating{Target: cur}, nil
	}
	return s, nil
}

// expire handles a tick without a target: the candidate survives until the
// grace period since its last gaze runs out.
func expire(s State, now time.Time, cfg Config) (State, []Effect) {
	t, ok := targetOf(s)
	if !ok || now.Sub(t.LastGazeTime) <= cfg.GazeTimeout {
		return s, nil
	}
	if _, dwelling := s.(Dwelling); dwelling {
		return Idle{}, []Effect{ClearDwell{}}
	}
	return Idle{}, nil
}

func targetOf(s State) (Target, bool) {
	switch s := s.(type) {
	case Accumulating:
		return s.Target, true
	case Dwelling:
		return s.Target, true
	}
	return Target{}, false
}
