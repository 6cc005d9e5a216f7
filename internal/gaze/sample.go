// Package gaze handles the raw gaze stream: sample decoding, filtering and
// smoothing, stale-signal detection, and the sources samples arrive from.
package gaze

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gaze-tracer/pkg/geometry"
)

// Sample is one raw gaze estimate from the tracker.
type Sample struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp int64   `json:"timestamp"` // milliseconds
	// Confidence is in [0,1]; nil means the tracker did not report one.
	Confidence *float64 `json:"confidence,omitempty"`
	// NoFace marks a tick where the tracker saw no face.
	NoFace bool `json:"noFace,omitempty"`
}

// Point returns the sample position.
func (s Sample) Point() geometry.Point2D {
	return geometry.Point2D{X: s.X, Y: s.Y}
}

// ConfidenceOr returns the reported confidence, or def when absent.
func (s Sample) ConfidenceOr(def float64) float64 {
	if s.Confidence == nil {
		return def
	}
	return *s.Confidence
}

// Confidence is a helper for building samples with a confidence value.
func Confidence(c float64) *float64 {
	return &c
}

// DecodeSamples parses a JSON payload holding either one sample or an array.
func DecodeSamples(payload []byte) ([]Sample, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty gaze payload")
	}
	if trimmed[0] == '[' {
		var batch []Sample
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, fmt.Errorf("decode gaze batch: %w", err)
		}
		return batch, nil
	}
	var s Sample
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, fmt.Errorf("decode gaze sample: %w", err)
	}
	return []Sample{s}, nil
}
