// Package geometry provides basic geometric types used throughout the application.
package geometry

import (
	"math"
	"sort"
)

// Point2D represents a 2D point with floating-point coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NewPoint2D creates a new Point2D.
func NewPoint2D(x, y float64) Point2D {
	return Point2D{X: x, Y: y}
}

// Distance returns the Euclidean distance to another point.
func (p Point2D) Distance(other Point2D) float64 {
	return math.Hypot(p.X-other.X, p.Y-other.Y)
}

// Add returns the sum of two points.
func (p Point2D) Add(other Point2D) Point2D {
	return Point2D{X: p.X + other.X, Y: p.Y + other.Y}
}

// Sub returns the difference of two points.
func (p Point2D) Sub(other Point2D) Point2D {
	return Point2D{X: p.X - other.X, Y: p.Y - other.Y}
}

// IsFinite reports whether both coordinates are finite numbers.
func (p Point2D) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// Rect represents a rectangle with floating-point coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NewRect creates a new Rect.
func NewRect(x, y, width, height float64) Rect {
	return Rect{X: x, Y: y, Width: width, Height: height}
}

// Contains returns true if the point is inside the rectangle.
func (r Rect) Contains(p Point2D) bool {
	return p.X >= r.X && p.X <= r.X+r.Width &&
		p.Y >= r.Y && p.Y <= r.Y+r.Height
}

// Center returns the center point of the rectangle.
func (r Rect) Center() Point2D {
	return Point2D{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Translate returns the rectangle moved by the given offset.
func (r Rect) Translate(offset Point2D) Rect {
	return Rect{X: r.X + offset.X, Y: r.Y + offset.Y, Width: r.Width, Height: r.Height}
}

// DistanceTo returns the distance from p to the nearest point of the rectangle.
// Points inside the rectangle are at distance 0.
func (r Rect) DistanceTo(p Point2D) float64 {
	dx := math.Max(math.Max(r.X-p.X, 0), p.X-(r.X+r.Width))
	dy := math.Max(math.Max(r.Y-p.Y, 0), p.Y-(r.Y+r.Height))
	return math.Hypot(dx, dy)
}

// Area returns width times height.
func (r Rect) Area() float64 {
	return r.Width * r.Height
}

// Viewport is the size of the screen area gaze coordinates refer to.
type Viewport struct {
	W float64 `json:"W"`
	H float64 `json:"H"`
}

// Valid reports whether both dimensions are positive.
func (v Viewport) Valid() bool {
	return v.W > 0 && v.H > 0
}

// Clamp limits p to the viewport bounds.
func (v Viewport) Clamp(p Point2D) Point2D {
	return Point2D{X: clamp(p.X, 0, v.W), Y: clamp(p.Y, 0, v.H)}
}

// ToUnit converts a pixel point to [0,1] viewport coordinates.
func (v Viewport) ToUnit(p Point2D) Point2D {
	return Point2D{X: p.X / v.W, Y: p.Y / v.H}
}

// ToPx converts a [0,1] viewport point to pixels.
func (v Viewport) ToPx(p Point2D) Point2D {
	return Point2D{X: p.X * v.W, Y: p.Y * v.H}
}

// FromPercent converts a [0,100] percentage position to pixels.
func (v Viewport) FromPercent(xPercent, yPercent float64) Point2D {
	return Point2D{X: xPercent / 100 * v.W, Y: yPercent / 100 * v.H}
}

// AffineTransform maps p to A·p + b.
type AffineTransform struct {
	A [2][2]float64 `json:"A"`
	B [2]float64    `json:"b"`
}

// Identity returns the identity transform.
func Identity() AffineTransform {
	return AffineTransform{A: [2][2]float64{{1, 0}, {0, 1}}}
}

// Translation returns a translation transform.
func Translation(tx, ty float64) AffineTransform {
	t := Identity()
	t.B = [2]float64{tx, ty}
	return t
}

// Apply applies the transform to a point.
func (t AffineTransform) Apply(p Point2D) Point2D {
	return Point2D{
		X: t.A[0][0]*p.X + t.A[0][1]*p.Y + t.B[0],
		Y: t.A[1][0]*p.X + t.A[1][1]*p.Y + t.B[1],
	}
}

// IsIdentity reports whether the transform is exactly the identity.
func (t AffineTransform) IsIdentity() bool {
	return t == Identity()
}

// Determinant returns the determinant of the linear part. A negative value
// means the transform mirrors its input.
func (t AffineTransform) Determinant() float64 {
	return t.A[0][0]*t.A[1][1] - t.A[0][1]*t.A[1][0]
}

// QuadraticTransform is a second-order polynomial map over the basis
// [1, x, y, x², xy, y²], one coefficient vector per output axis.
type QuadraticTransform struct {
	AX [6]float64 `json:"ax"`
	AY [6]float64 `json:"ay"`
}

// QuadraticBasis returns [1, x, y, x², xy, y²] for p.
func QuadraticBasis(p Point2D) [6]float64 {
	return [6]float64{1, p.X, p.Y, p.X * p.X, p.X * p.Y, p.Y * p.Y}
}

// Apply evaluates the polynomial at p.
func (q QuadraticTransform) Apply(p Point2D) Point2D {
	v := QuadraticBasis(p)
	var x, y float64
	for i := range v {
		x += q.AX[i] * v[i]
		y += q.AY[i] * v[i]
	}
	return Point2D{X: x, Y: y}
}

// Centroid computes the centroid (average position) of a set of points.
func Centroid(points []Point2D) Point2D {
	if len(points) == 0 {
		return Point2D{}
	}
	var sumX, sumY float64
	for _, p := range points {
		sumX += p.X
		sumY += p.Y
	}
	n := float64(len(points))
	return Point2D{X: sumX / n, Y: sumY / n}
}

// BoundingBox computes the axis-aligned bounding box of a set of points.
func BoundingBox(points []Point2D) Rect {
	if len(points) == 0 {
		return Rect{}
	}
	minX, minY := points[0].X, points[0].Y
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		minX = math.Min(minX, p.X)
		maxX = math.Max(maxX, p.X)
		minY = math.Min(minY, p.Y)
		maxY = math.Max(maxY, p.Y)
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// Median returns the median of values, or 0 for an empty slice.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	m := len(s) / 2
	if len(s)%2 == 1 {
		return s[m]
	}
	return (s[m-1] + s[m]) / 2
}

// MedianPoint returns the coordinate-wise median of points.
func MedianPoint(points []Point2D) Point2D {
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i] = p.X, p.Y
	}
	return Point2D{X: Median(xs), Y: Median(ys)}
}

// MAD returns the median distance of points from their coordinate-wise median.
func MAD(points []Point2D) float64 {
	if len(points) == 0 {
		return 0
	}
	m := MedianPoint(points)
	ds := make([]float64, len(points))
	for i, p := range points {
		ds[i] = p.Distance(m)
	}
	return Median(ds)
}

// Percentile returns the value at fraction q (0..1) of the sorted values
// using the nearest-rank-below rule.
func Percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s := append([]float64(nil), values...)
	sort.Float64s(s)
	idx := int(math.Floor(q * float64(len(s)-1)))
	return s[int(clamp(float64(idx), 0, float64(len(s)-1)))]
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
