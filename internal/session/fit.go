package session

import (
	"time"

	"gaze-tracer/internal/calibration"
	"gaze-tracer/internal/fitting"
	"gaze-tracer/pkg/geometry"
)

// Sample pairs a raw gaze estimate with the target the user confirmed.
type Sample struct {
	PointIndex int              `json:"pointIndex"`
	Raw        geometry.Point2D `json:"raw"`
	Target     geometry.Point2D `json:"target"`
	Weight     float64          `json:"weight"`
	Timestamp  int64            `json:"timestamp"`
}

// Result describes a completed fit.
type Result struct {
	Samples   int                `json:"samples"`
	Inliers   int                `json:"inliers"`
	Quadratic bool               `json:"quadratic"`
	RBF       bool               `json:"rbf"`
	Errors    fitting.ErrorStats `json:"errors"`
	// AffineMeanPx is the mean inlier error of the affine stage alone.
	AffineMeanPx float64 `json:"affineMeanPx"`
	// Mirrored is set when the affine flips the raw axes, which usually
	// means the camera image is not mirrored the way the estimator expects.
	Mirrored bool `json:"mirrored"`
	// Accuracy is the median reprojection error over the inliers, in pixels.
	// It is zero with Errors.Count zero when there was nothing to measure.
	Accuracy float64       `json:"accuracy"`
	Duration time.Duration `json:"duration"`
}

// Fit builds a calibration chain from confirmed samples. RANSAC picks the
// affine and its inliers. A quadratic is fitted on the affine-corrected
// inliers when at least six exist. When the result still misses the accuracy
// targets and RBF is enabled, an RBF correction is fitted in unit space.
func Fit(samples []Sample, v geometry.Viewport, cfg Config) (*calibration.Chain, Result) {
	cfg = cfg.withDefaults()
	start := time.Now()

	raw := make([]geometry.Point2D, len(samples))
	tgt := make([]geometry.Point2D, len(samples))
	w := make([]float64, len(samples))
	for i, s := range samples {
		raw[i], tgt[i], w[i] = s.Raw, s.Target, s.Weight
	}

	rs := fitting.RANSACAffine(raw, tgt, w, cfg.RANSAC)
	affine := rs.Transform
	chain := &calibration.Chain{Affine: &affine, Viewport: v}
	res := Result{Samples: len(samples), Inliers: rs.InlierCount}

	inRaw, inTgt, inW := raw, tgt, w
	if rs.InlierCount > 0 {
		inRaw, inTgt, inW = subset(raw, rs.Inliers), subset(tgt, rs.Inliers), subset(w, rs.Inliers)
	}

	// Final fits run in unit coordinates so the normal matrices stay well
	// scaled, then convert back to pixels.
	if v.Valid() && rs.InlierCount >= fitting.MinAffinePoints {
		affine = calibration.AffineUnitToPx(fitting.FitAffineWeighted(calibration.ToUnit(inRaw, v), calibration.ToUnit(inTgt, v), inW), v)
		chain.Affine = &affine
	}
	if len(inRaw) > 0 {
		res.AffineMeanPx = fitting.CalculateAlignmentError(inRaw, inTgt, affine)
	}
	res.Mirrored = affine.Determinant() < 0

	stage := mapPoints(inRaw, affine.Apply)
	if len(stage) >= fitting.MinQuadraticPoints {
		var q geometry.QuadraticTransform
		var ok bool
		if v.Valid() {
			q, ok = fitting.FitQuadraticWeighted(calibration.ToUnit(stage, v), calibration.ToUnit(inTgt, v), inW)
			q = calibration.QuadUnitToPx(q, v)
		} else {
			q, ok = fitting.FitQuadraticWeighted(stage, inTgt, inW)
		}
		if ok {
			chain.Quad = &q
			res.Quadratic = true
			stage = mapPoints(stage, q.Apply)
		}
	}

	stats := fitting.Summarize(fitting.ReprojectionErrors(inRaw, inTgt, chain.Apply))
	if cfg.EnableRBF && v.Valid() && (stats.Median > cfg.TargetMedianPx || stats.P95 > cfg.TargetP95Px) {
		unitStage := calibration.ToUnit(stage, v)
		if m, ok := fitting.FitRBF(unitStage, calibration.ToUnit(inTgt, v), inW, cfg.RBFSigma); ok {
			chain.RBF = m
			res.RBF = true
			stats = fitting.Summarize(fitting.ReprojectionErrors(inRaw, inTgt, chain.Apply))
		}
	}

	if stats.Count == 0 {
		// No pairs to measure; report zeros rather than infinities.
		stats = fitting.ErrorStats{}
	}
	res.Errors = stats
	res.Accuracy = stats.Median
	res.Duration = time.Since(start)
	return chain, res
}

func subset[T any](v []T, keep []bool) []T {
	out := make([]T, 0, len(v))
	for i, k := range keep {
		if k && i < len(v) {
			out = append(out, v[i])
		}
	}
	return out
}

func mapPoints(pts []geometry.Point2D, f func(geometry.Point2D) geometry.Point2D) []geometry.Point2D {
	out := make([]geometry.Point2D, len(pts))
	for i, p := range pts {
		out[i] = f(p)
	}
	return out
}
