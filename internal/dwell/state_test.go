package dwell

import (
	"testing"
	"time"

	"gaze-tracer/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Unix(1_700_000_000, 0)

	buttonA = &Element{Key: "a", Properties: Properties{TagName: "BUTTON", ID: "buy", TextContent: "  Buy now "}}
	buttonB = &Element{Key: "b", Properties: Properties{TagName: "button", ID: "cancel"}}
	plain   = &Element{Key: "div", Properties: Properties{TagName: "div"}}
)

func at(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

// stream feeds one gaze input per 100ms from start to end inclusive, using
// hit to pick the element at each instant.
func stream(s State, cfg Config, start, end int, hit func(ms int) *Element) (State, []Effect) {
	var all []Effect
	for ms := start; ms <= end; ms += 100 {
		var eff []Effect
		s, eff = Reduce(s, Gaze{Now: at(ms), Hit: hit(ms)}, cfg)
		all = append(all, eff...)
	}
	return s, all
}

func emitted(effects []Effect) []Event {
	var out []Event
	for _, e := range effects {
		if ev, ok := e.(EmitDwell); ok {
			out = append(out, ev.Event)
		}
	}
	return out
}

func TestDwellEmitsOnceAfterThreshold(t *testing.T) {
	cfg := DefaultConfig()
	s, effects := stream(Idle{}, cfg, 0, 2100, func(int) *Element { return buttonA })

	events := emitted(effects)
	require.Len(t, events, 1)
	assert.Equal(t, int64(2000), events[0].DwellMs)
	assert.Equal(t, "button", events[0].ElementType)
	assert.Equal(t, "Buy now", events[0].ElementText)
	assert.Equal(t, "buy", events[0].ElementProperties.ID)

	d, ok := s.(Dwelling)
	require.True(t, ok)
	assert.Equal(t, 2100*time.Millisecond, d.Target.DwellTime)
}

func TestDwellSwitchingElementsNeverEmits(t *testing.T) {
	cfg := DefaultConfig()
	_, effects := stream(Idle{}, cfg, 0, 5000, func(ms int) *Element {
		if (ms/200)%2 == 0 {
			return buttonA
		}
		return buttonB
	})
	assert.Empty(t, emitted(effects))
}

func TestDwellResetOnTargetChange(t *testing.T) {
	cfg := DefaultConfig()
	s, effects := stream(Idle{}, cfg, 0, 1900, func(int) *Element { return buttonA })
	require.Empty(t, emitted(effects))

	s, effects = Reduce(s, Gaze{Now: at(2000), Hit: buttonB}, cfg)
	assert.Empty(t, effects)
	acc, ok := s.(Accumulating)
	require.True(t, ok)
	assert.Equal(t, "b", acc.Target.Element.Key)
	assert.Equal(t, time.Duration(0), acc.Target.DwellTime)
	assert.Equal(t, at(2000), acc.Target.StartTime)

	// B needs its own full threshold.
	s, effects = stream(s, cfg, 2100, 3900, func(int) *Element { return buttonB })
	assert.Empty(t, emitted(effects))
	_, effects = Reduce(s, Gaze{Now: at(4000), Hit: buttonB}, cfg)
	assert.Len(t, emitted(effects), 1)
}

func TestDwellGracePeriod(t *testing.T) {
	cfg := DefaultConfig()
	s, _ := stream(Idle{}, cfg, 0, 1000, func(int) *Element { return buttonA })

	// 300ms gap with nothing under the gaze.
	s, effects := stream(s, cfg, 1100, 1300, func(int) *Element { return nil })
	assert.Empty(t, effects)
	_, ok := s.(Accumulating)
	require.True(t, ok)

	s, _ = Reduce(s, Gaze{Now: at(1400), Hit: buttonA}, cfg)
	acc := s.(Accumulating)
	assert.Equal(t, 1400*time.Millisecond, acc.Target.DwellTime)
	assert.Equal(t, at(0), acc.Target.StartTime)

	_, effects = stream(s, cfg, 1500, 2000, func(int) *Element { return buttonA })
	assert.Len(t, emitted(effects), 1)
}

func TestDwellGraceExpires(t *testing.T) {
	cfg := DefaultConfig()
	s, effects := stream(Idle{}, cfg, 0, 2000, func(int) *Element { return buttonA })
	require.Len(t, emitted(effects), 1)

	s, effects = Reduce(s, NoGaze{Now: at(2500)}, cfg)
	assert.Empty(t, effects)
	assert.IsType(t, Dwelling{}, s)

	// Non-interactive hits count as no target.
	s, effects = Reduce(s, Gaze{Now: at(2501), Hit: plain}, cfg)
	assert.Equal(t, []Effect{ClearDwell{}}, effects)
	assert.Equal(t, Idle{}, s)
}

func TestDwellSwitchClearsActiveEvent(t *testing.T) {
	cfg := DefaultConfig()
	s, _ := stream(Idle{}, cfg, 0, 2000, func(int) *Element { return buttonA })
	s, effects := Reduce(s, Gaze{Now: at(2100), Hit: buttonB}, cfg)
	assert.Equal(t, []Effect{ClearDwell{}}, effects)
	assert.IsType(t, Accumulating{}, s)
}

func TestDismiss(t *testing.T) {
	cfg := DefaultConfig()

	s, effects := Reduce(Idle{}, Dismiss{}, cfg)
	assert.Equal(t, Idle{}, s)
	assert.Empty(t, effects)

	s, _ = stream(Idle{}, cfg, 0, 500, func(int) *Element { return buttonA })
	s, effects = Reduce(s, Dismiss{}, cfg)
	assert.Equal(t, Idle{}, s)
	assert.Empty(t, effects)

	s, _ = stream(Idle{}, cfg, 0, 2000, func(int) *Element { return buttonA })
	s, effects = Reduce(s, Dismiss{}, cfg)
	assert.Equal(t, Idle{}, s)
	assert.Equal(t, []Effect{ClearDwell{}}, effects)
}

func TestInteractive(t *testing.T) {
	tests := []struct {
		e    *Element
		want bool
	}{
		{nil, false},
		{&Element{Properties: Properties{TagName: "IMG"}}, true},
		{&Element{Properties: Properties{TagName: "h3"}}, true},
		{&Element{Properties: Properties{TagName: "span"}}, false},
		{&Element{Properties: Properties{TagName: "div"}, Cursor: "pointer"}, true},
		{&Element{Properties: Properties{TagName: "li"}, HasClickHandler: true}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.e.Interactive(), "%+v", tt.e)
	}
}

func TestEventBoundingRectInPageSpace(t *testing.T) {
	e := *buttonA
	e.Rect = geometry.Rect{X: 10, Y: 20, Width: 100, Height: 40}
	e.FrameID = "preview"
	e.FrameOffset = geometry.Point2D{X: 200, Y: 50}

	s, effects := stream(Idle{}, DefaultConfig(), 0, 2000, func(int) *Element { return &e })
	events := emitted(effects)
	require.Len(t, events, 1)
	assert.Equal(t, geometry.Rect{X: 210, Y: 70, Width: 100, Height: 40}, events[0].BoundingRect)
	assert.Equal(t, "preview", events[0].Frame)
	assert.Equal(t, "preview", s.(Dwelling).Target.Element.FrameID)
}
