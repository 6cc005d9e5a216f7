package dwell

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gaze-tracer/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLayout() Layout {
	return Layout{
		Elements: []Element{
			{Key: "page", Rect: geometry.Rect{Width: 1000, Height: 800}, Properties: Properties{TagName: "div"}},
			{Key: "cta", Rect: geometry.Rect{X: 100, Y: 100, Width: 200, Height: 50}, Properties: Properties{TagName: "button"}},
			{Key: "title", Rect: geometry.Rect{X: 100, Y: 300, Width: 400, Height: 60}, Properties: Properties{TagName: "h1"}},
		},
		Frames: []Frame{
			{
				ID:     "preview",
				Rect:   geometry.Rect{X: 600, Y: 400, Width: 300, Height: 300},
				Scroll: geometry.Point2D{Y: 100},
				Elements: []Element{
					{Key: "inner", Rect: geometry.Rect{X: 10, Y: 150, Width: 100, Height: 30}, Properties: Properties{TagName: "a"}},
				},
			},
			{ID: "ads", Rect: geometry.Rect{X: 0, Y: 700, Width: 300, Height: 100}, CrossOrigin: true},
		},
	}
}

func TestLayoutHitTester(t *testing.T) {
	h := NewLayoutHitTester(DefaultProximityThreshold)
	h.SetLayout(testLayout())

	e, err := h.HitTest(geometry.Point2D{X: 150, Y: 120})
	require.NoError(t, err)
	assert.Equal(t, "cta", e.Key, "innermost element wins over page")

	// 30px left of the heading, but inside the page div.
	e, err = h.HitTest(geometry.Point2D{X: 70, Y: 320})
	require.NoError(t, err)
	assert.Equal(t, "page", e.Key)

	// Frame-local: (620-600, 460-400+100) = (20, 160).
	e, err = h.HitTest(geometry.Point2D{X: 620, Y: 460})
	require.NoError(t, err)
	assert.Equal(t, "inner", e.Key)
	assert.Equal(t, "preview", e.FrameID)
	assert.Equal(t, geometry.Rect{X: 610, Y: 450, Width: 100, Height: 30}, e.PageRect())

	// Empty spot in the frame falls back to the page.
	e, err = h.HitTest(geometry.Point2D{X: 850, Y: 650})
	require.NoError(t, err)
	assert.Equal(t, "page", e.Key)
	assert.Empty(t, e.FrameID)

	_, err = h.HitTest(geometry.Point2D{X: 50, Y: 750})
	assert.True(t, errors.Is(err, ErrCrossOrigin))
}

func TestLayoutHitTesterProximity(t *testing.T) {
	h := NewLayoutHitTester(50)
	h.SetLayout(Layout{Elements: []Element{
		{Key: "btn", Rect: geometry.Rect{X: 100, Y: 100, Width: 50, Height: 20}, Properties: Properties{TagName: "button"}},
	}})

	e, err := h.HitTest(geometry.Point2D{X: 190, Y: 110})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "btn", e.Key)

	e, err = h.HitTest(geometry.Point2D{X: 201, Y: 110})
	require.NoError(t, err)
	assert.Nil(t, e)

	exact := NewLayoutHitTester(0)
	exact.SetLayout(Layout{Elements: []Element{{Key: "btn", Rect: geometry.Rect{X: 100, Y: 100, Width: 50, Height: 20}}}})
	e, err = exact.HitTest(geometry.Point2D{X: 151, Y: 110})
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestDetectorEmitsThroughListener(t *testing.T) {
	h := NewLayoutHitTester(0)
	h.SetLayout(testLayout())
	d := NewDetector(DefaultConfig(), h, nil)

	var got []Effect
	d.OnEffect(func(e Effect) { got = append(got, e) })

	for ms := 0; ms <= 2100; ms += 100 {
		d.Feed(geometry.Point2D{X: 150, Y: 120}, at(ms))
		d.Check(at(ms))
	}
	require.Len(t, got, 1)
	ev := got[0].(EmitDwell).Event
	assert.Equal(t, "button", ev.ElementType)
	require.NotNil(t, d.Active())
	assert.True(t, d.IsDwelling())

	assert.Equal(t, []Effect{ClearDwell{}}, d.Dismiss())
	assert.Nil(t, d.Active())
	assert.False(t, d.IsDwelling())
	assert.Empty(t, d.Dismiss())
	assert.Len(t, got, 2)
}

func TestDetectorSwallowsHitTestErrors(t *testing.T) {
	calls := 0
	d := NewDetector(DefaultConfig(), HitTesterFunc(func(geometry.Point2D) (*Element, error) {
		calls++
		return nil, ErrCrossOrigin
	}), nil)

	d.Feed(geometry.Point2D{X: 1, Y: 1}, at(0))
	assert.Empty(t, d.Check(at(0)))
	assert.Equal(t, 1, calls)
	assert.Equal(t, Idle{}, d.State())
}

func TestDetectorStalePointIsNoGaze(t *testing.T) {
	h := NewLayoutHitTester(0)
	h.SetLayout(testLayout())
	d := NewDetector(DefaultConfig(), h, nil)

	d.Feed(geometry.Point2D{X: 150, Y: 120}, at(0))
	d.Check(at(0))
	require.True(t, d.IsDwelling())

	// No further samples: the point goes stale and the candidate expires.
	d.Check(at(400))
	assert.True(t, d.IsDwelling())
	d.Check(at(1000))
	assert.False(t, d.IsDwelling())

	d.Feed(geometry.Point2D{X: 150, Y: 120}, at(1100))
	d.Lost()
	d.Check(at(1100))
	assert.False(t, d.IsDwelling())
}

func TestDetectorRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CheckInterval = 5 * time.Millisecond
	cfg.DwellThreshold = 20 * time.Millisecond

	h := NewLayoutHitTester(0)
	h.SetLayout(testLayout())
	d := NewDetector(cfg, h, nil)

	var once sync.Once
	fired := make(chan Event, 1)
	d.OnEffect(func(e Effect) {
		if ev, ok := e.(EmitDwell); ok {
			once.Do(func() { fired <- ev.Event })
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	feedCtx, stopFeed := context.WithCancel(ctx)
	go func() {
		tick := time.NewTicker(2 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-feedCtx.Done():
				return
			case <-tick.C:
				d.Feed(geometry.Point2D{X: 200, Y: 330}, time.Now())
			}
		}
	}()

	select {
	case ev := <-fired:
		assert.Equal(t, "h1", ev.ElementType)
	case <-time.After(2 * time.Second):
		t.Fatal("no dwell event")
	}
	stopFeed()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestDetectorRunUsesInjectedClock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CheckInterval = 2 * time.Millisecond

	h := NewLayoutHitTester(0)
	h.SetLayout(testLayout())
	d := NewDetector(cfg, h, nil)

	virtual := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	d.SetClock(func() time.Time { return virtual })
	d.Feed(geometry.Point2D{X: 200, Y: 330}, virtual)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := d.State().(Accumulating)
		return ok
	}, time.Second, 2*time.Millisecond, "a wall-clock tick would see the virtual point as stale")
}

func TestDetectorSetConfig(t *testing.T) {
	d := NewDetector(DefaultConfig(), NewLayoutHitTester(0), nil)
	d.SetConfig(Config{DwellThreshold: 300 * time.Millisecond})

	cfg := d.Config()
	assert.Equal(t, 300*time.Millisecond, cfg.DwellThreshold)
	assert.Equal(t, DefaultGazeTimeout, cfg.GazeTimeout)
	assert.Equal(t, DefaultCheckInterval, cfg.CheckInterval)
}

func TestLayoutHitTesterSetProximity(t *testing.T) {
	h := NewLayoutHitTester(0)
	h.SetLayout(Layout{Elements: []Element{
		{Key: "cta", Rect: geometry.Rect{X: 100, Y: 100, Width: 200, Height: 50}, Properties: Properties{TagName: "button"}},
	}})

	e, err := h.HitTest(geometry.Point2D{X: 80, Y: 120})
	require.NoError(t, err)
	assert.Nil(t, e)

	h.SetProximity(30)
	e, err = h.HitTest(geometry.Point2D{X: 80, Y: 120})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "cta", e.Key)
}
