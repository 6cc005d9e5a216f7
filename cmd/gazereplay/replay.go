package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"gaze-tracer/internal/calibration"
	"gaze-tracer/internal/dwell"
	"gaze-tracer/internal/gaze"
	"gaze-tracer/internal/session"
	"gaze-tracer/internal/store"
	"gaze-tracer/internal/tracker"
	"gaze-tracer/pkg/geometry"

	"go.uber.org/zap"
)

// Capture is a recorded calibration run followed by a free-viewing stream.
type Capture struct {
	Viewport geometry.Viewport          `json:"viewport"`
	Points   []session.CalibrationPoint `json:"points,omitempty"`
	Clicks   []Click                    `json:"clicks"`
	Layout   dwell.Layout               `json:"layout"`
	Stream   []gaze.Sample              `json:"stream"`
}

// Click pairs a calibration target with the raw gaze at click time.
type Click struct {
	Index  int         `json:"index"`
	Sample gaze.Sample `json:"sample"`
}

// Report is what a replay produced.
type Report struct {
	Result   session.Result
	Chain    *calibration.Chain
	Dwells   []dwell.Event
	Cleared  int
	Accepted int
	Dropped  map[string]int
	// Residuals holds the mean calibrated error per target.
	Residuals []Residual
}

// Residual is the mean error left at one calibration target.
type Residual struct {
	Index  int
	Target geometry.Point2D
	Clicks int
	MeanPx float64
}

func residuals(samples []session.Sample, chain *calibration.Chain) []Residual {
	byIndex := make(map[int]*Residual)
	var order []int
	for _, s := range samples {
		r, ok := byIndex[s.PointIndex]
		if !ok {
			r = &Residual{Index: s.PointIndex, Target: s.Target}
			byIndex[s.PointIndex] = r
			order = append(order, s.PointIndex)
		}
		r.Clicks++
		r.MeanPx += chain.Apply(s.Raw).Distance(s.Target)
	}
	sort.Ints(order)
	out := make([]Residual, 0, len(order))
	for _, i := range order {
		r := byIndex[i]
		r.MeanPx /= float64(r.Clicks)
		out = append(out, *r)
	}
	return out
}

func loadCapture(path string) (*Capture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}
	var c Capture
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse capture %s: %w", path, err)
	}
	if !c.Viewport.Valid() {
		return nil, fmt.Errorf("capture %s: viewport missing", path)
	}
	return &c, nil
}

// replay runs the capture through a tracker on a virtual clock driven by the
// stream timestamps, ticking the dwell detector at its check interval.
func replay(ctx context.Context, c *Capture, sessCfg session.Config, dwellCfg dwell.Config, log *zap.Logger) (*Report, error) {
	var clock time.Time
	now := func() time.Time { return clock }

	tr := tracker.New(tracker.Options{
		Viewport: c.Viewport,
		Dwell:    dwellCfg,
		Session:  sessCfg,
		Store:    store.NewMemoryStore(),
		Logger:   log,
		Now:      now,
	})

	rep := &Report{Dropped: make(map[string]int)}
	tr.On(tracker.EventDwell, func(data interface{}) {
		rep.Dwells = append(rep.Dwells, data.(dwell.Event))
	})
	tr.On(tracker.EventDwellCleared, func(interface{}) { rep.Cleared++ })

	if len(c.Clicks) > 0 {
		if err := tr.StartCalibration(store.Key{}, c.Viewport, c.Points); err != nil {
			return nil, err
		}
		for _, click := range c.Clicks {
			if err := tr.RecordCalibrationClick(click.Index, &click.Sample); err != nil {
				log.Warn("click rejected", zap.Int("index", click.Index), zap.Error(err))
			}
		}
		res, err := tr.CompleteCalibration(ctx)
		if err != nil {
			return nil, err
		}
		rep.Result = res
	}
	rep.Chain = tr.Holder().Load()

	rep.Residuals = residuals(tr.Session().Samples(), rep.Chain)

	tr.SetLayout(c.Layout)
	interval := tr.Detector().Config().CheckInterval
	var lastTick time.Time

	src := gaze.NewChannelSource()
	src.Subscribe(func(s gaze.Sample) {
		at := time.UnixMilli(s.Timestamp)
		if lastTick.IsZero() {
			lastTick = at
		}
		for ; !lastTick.After(at); lastTick = lastTick.Add(interval) {
			clock = lastTick
			tr.CheckDwell(clock)
		}
		clock = at
		if _, reason := tr.FeedGazeSample(s); reason == gaze.Accepted {
			rep.Accepted++
		} else {
			rep.Dropped[reason.String()]++
		}
	})

	ch := make(chan gaze.Sample, len(c.Stream))
	for _, s := range c.Stream {
		ch <- s
	}
	close(ch)
	if err := src.Run(ctx, ch); err != nil {
		return nil, err
	}

	// Let the last candidate settle.
	end := lastTick.Add(tr.Detector().Config().GazeTimeout + interval)
	for ; !lastTick.After(end); lastTick = lastTick.Add(interval) {
		clock = lastTick
		tr.CheckDwell(clock)
	}
	return rep, nil
}
