package session

import "gaze-tracer/pkg/geometry"

// CalibrationPoint is an on-screen target, positioned as a percentage of the
// viewport.
type CalibrationPoint struct {
	Index    int     `json:"index"`
	XPercent float64 `json:"xPercent"`
	YPercent float64 `json:"yPercent"`
}

// Resolve returns the target position in pixels for v.
func (p CalibrationPoint) Resolve(v geometry.Viewport) geometry.Point2D {
	return v.FromPercent(p.XPercent, p.YPercent)
}

// DefaultPoints is the 12-point grid: three columns at 10/50/90% and four rows
// at 10/35/65/90%.
func DefaultPoints() []CalibrationPoint {
	return grid([]float64{10, 50, 90}, []float64{10, 35, 65, 90})
}

// FivePoints is the corners plus centre.
func FivePoints() []CalibrationPoint {
	return indexed([][2]float64{{10, 10}, {90, 10}, {50, 50}, {10, 90}, {90, 90}})
}

func grid(xs, ys []float64) []CalibrationPoint {
	var pos [][2]float64
	for _, y := range ys {
		for _, x := range xs {
			pos = append(pos, [2]float64{x, y})
		}
	}
	return indexed(pos)
}

func indexed(pos [][2]float64) []CalibrationPoint {
	pts := make([]CalibrationPoint, len(pos))
	for i, p := range pos {
		pts[i] = CalibrationPoint{Index: i, XPercent: p[0], YPercent: p[1]}
	}
	return pts
}
