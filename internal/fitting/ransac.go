package fitting

import (
	"math/rand"
	"time"

	"gaze-tracer/pkg/geometry"
)

const (
	// DefaultThresholdPx is the reprojection error under which a pair counts as an inlier.
	DefaultThresholdPx = 60.0
	// DefaultMaxIterations bounds the RANSAC search.
	DefaultMaxIterations = 120
	// MinRANSACPoints is the smallest set RANSAC is attempted on.
	MinRANSACPoints = 6

	earlyExitFraction = 0.9
)

// RANSACOptions tunes RANSACAffine. Zero values select the defaults.
type RANSACOptions struct {
	ThresholdPx   float64
	MaxIterations int
	// Rand supplies the sampling randomness; nil seeds a new source from the clock.
	Rand *rand.Rand
}

// RANSACResult holds the robust fit and which correspondences support it.
type RANSACResult struct {
	Inliers     []bool
	Transform   geometry.AffineTransform
	InlierCount int
	Iterations  int
}

// RANSACAffine fits an affine transform that tolerates outlier correspondences
// such as a calibration click made while the user blinked. Sets smaller than
// MinRANSACPoints are fitted directly with every pair marked as an inlier.
func RANSACAffine(raw, target []geometry.Point2D, weights []float64, opts RANSACOptions) RANSACResult {
	n := pairCount(raw, target)
	if opts.ThresholdPx <= 0 {
		opts.ThresholdPx = DefaultThresholdPx
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	w := normalizeWeights(weights, n)

	if n < MinRANSACPoints {
		inliers := make([]bool, n)
		for i := range inliers {
			inliers[i] = true
		}
		return RANSACResult{
			Inliers:     inliers,
			Transform:   FitAffineWeighted(raw[:n], target[:n], w),
			InlierCount: n,
		}
	}

	best := make([]bool, n)
	bestCount := 0
	iter := 0
	for iter < opts.MaxIterations {
		iter++

		// Randomly sample 3 distinct pairs
		idx := opts.Rand.Perm(n)[:MinAffinePoints]
		sample := make([]geometry.Point2D, MinAffinePoints)
		sampleTarget := make([]geometry.Point2D, MinAffinePoints)
		sampleWeights := make([]float64, MinAffinePoints)
		for i, k := range idx {
			sample[i] = raw[k]
			sampleTarget[i] = target[k]
			sampleWeights[i] = w[k]
		}
		t := FitAffineWeighted(sample, sampleTarget, sampleWeights)

		inliers, count := classify(raw[:n], target[:n], t, opts.ThresholdPx)
		if count > bestCount {
			best, bestCount = inliers, count
		}
		if float64(bestCount) > earlyExitFraction*float64(n) {
			break
		}
	}

	// Refit on every inlier, or on everything when none were found.
	var inRaw, inTarget []geometry.Point2D
	var inWeights []float64
	for i := 0; i < n; i++ {
		if best[i] {
			inRaw = append(inRaw, raw[i])
			inTarget = append(inTarget, target[i])
			inWeights = append(inWeights, w[i])
		}
	}
	if len(inRaw) == 0 {
		inRaw, inTarget, inWeights = raw[:n], target[:n], w
	}

	return RANSACResult{
		Inliers:     best,
		Transform:   FitAffineWeighted(inRaw, inTarget, inWeights),
		InlierCount: bestCount,
		Iterations:  iter,
	}
}

// classify marks pairs whose reprojection error under t is within threshold.
func classify(raw, target []geometry.Point2D, t geometry.AffineTransform, threshold float64) ([]bool, int) {
	inliers := make([]bool, len(raw))
	count := 0
	for i := range raw {
		if ApplyAffine(raw[i], t).Distance(target[i]) <= threshold {
			inliers[i] = true
			count++
		}
	}
	return inliers, count
}
