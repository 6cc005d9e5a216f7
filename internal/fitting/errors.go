package fitting

import (
	"math"

	"gaze-tracer/pkg/geometry"
)

// ErrorStats summarizes reprojection errors in pixels.
type ErrorStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

// ReprojectionErrors returns |f(raw[i]) - target[i]| for each pair.
func ReprojectionErrors(raw, target []geometry.Point2D, f func(geometry.Point2D) geometry.Point2D) []float64 {
	n := pairCount(raw, target)
	errs := make([]float64, n)
	for i := 0; i < n; i++ {
		errs[i] = f(raw[i]).Distance(target[i])
	}
	return errs
}

// Summarize computes ErrorStats. An empty input reports infinite errors.
func Summarize(errs []float64) ErrorStats {
	if len(errs) == 0 {
		inf := math.Inf(1)
		return ErrorStats{Mean: inf, Median: inf, P95: inf, Max: inf}
	}
	var sum, maxErr float64
	for _, e := range errs {
		sum += e
		maxErr = math.Max(maxErr, e)
	}
	return ErrorStats{
		Mean:   sum / float64(len(errs)),
		Median: geometry.Median(errs),
		P95:    geometry.Percentile(errs, 0.95),
		Max:    maxErr,
		Count:  len(errs),
	}
}

// CalculateAlignmentError returns the mean reprojection error of t.
func CalculateAlignmentError(raw, target []geometry.Point2D, t geometry.AffineTransform) float64 {
	return Summarize(ReprojectionErrors(raw, target, t.Apply)).Mean
}
