// Package dispatch delivers tracker notifications to the UI: dwell events,
// calibration targets and results, and stale-signal warnings.
package dispatch

import (
	"time"

	"gaze-tracer/internal/dwell"
	"gaze-tracer/internal/session"
	"gaze-tracer/pkg/geometry"
)

// Message types.
const (
	TypeDwell            = "dwell"
	TypeDwellCleared     = "dwell_cleared"
	TypeCalibrationPoint = "calibration_point"
	TypeCalibrated       = "calibrated"
	TypeStale            = "stale"
)

// Message is the envelope pushed to clients.
type Message struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// PointPayload is the payload of a calibration_point message.
type PointPayload struct {
	Point  session.CalibrationPoint `json:"point"`
	Target geometry.Point2D         `json:"target"`
}

// StalePayload is the payload of a stale message.
type StalePayload struct {
	Reason string `json:"reason"`
}

// Dispatcher receives tracker notifications. Implementations must not block
// for long: they are called from the detector tick.
type Dispatcher interface {
	DwellDetected(ev dwell.Event)
	DwellCleared()
	PresentPoint(p session.CalibrationPoint, target geometry.Point2D)
	Calibrated(res session.Result)
	Stale(err error)
}

// Sink is anything that can deliver a Message.
type Sink interface {
	Send(msg Message)
}

// Messages adapts a Sink to Dispatcher.
type Messages struct {
	Sink Sink
	Now  func() time.Time
}

func (m Messages) send(typ string, payload any) {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	m.Sink.Send(Message{Type: typ, Payload: payload, At: now().UTC()})
}

func (m Messages) DwellDetected(ev dwell.Event) { m.send(TypeDwell, ev) }

func (m Messages) DwellCleared() { m.send(TypeDwellCleared, nil) }

func (m Messages) PresentPoint(p session.CalibrationPoint, target geometry.Point2D) {
	m.send(TypeCalibrationPoint, PointPayload{Point: p, Target: target})
}

func (m Messages) Calibrated(res session.Result) { m.send(TypeCalibrated, res) }

func (m Messages) Stale(err error) {
	m.send(TypeStale, StalePayload{Reason: err.Error()})
}

// Multi fans out to several dispatchers in order.
type Multi []Dispatcher

func (m Multi) DwellDetected(ev dwell.Event) {
	for _, d := range m {
		d.DwellDetected(ev)
	}
}

func (m Multi) DwellCleared() {
	for _, d := range m {
		d.DwellCleared()
	}
}

func (m Multi) PresentPoint(p session.CalibrationPoint, target geometry.Point2D) {
	for _, d := range m {
		d.PresentPoint(p, target)
	}
}

func (m Multi) Calibrated(res session.Result) {
	for _, d := range m {
		d.Calibrated(res)
	}
}

func (m Multi) Stale(err error) {
	for _, d := range m {
		d.Stale(err)
	}
}
