package geometry

import (
	"math"
	"sort"
)

// ConvexHull computes the convex hull of a set of points using the monotone chain
// method. Returns the hull in counter-clockwise order without a repeated endpoint.
func ConvexHull(points []Point2D) []Point2D {
	if len(points) < 3 {
		return append([]Point2D(nil), points...)
	}

	pts := append([]Point2D(nil), points...)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].X != pts[j].X {
			return pts[i].X < pts[j].X
		}
		return pts[i].Y < pts[j].Y
	})

	hull := make([]Point2D, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && crossProduct(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && crossProduct(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// PolygonArea returns the unsigned area of a simple polygon (shoelace formula).
func PolygonArea(polygon []Point2D) float64 {
	n := len(polygon)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += polygon[i].X*polygon[j].Y - polygon[j].X*polygon[i].Y
	}
	return math.Abs(sum) / 2
}

// Collinear reports whether the points span no meaningful area: every point lies
// within tol of the line through the two points farthest apart.
func Collinear(points []Point2D, tol float64) bool {
	hull := ConvexHull(points)
	if len(hull) < 3 {
		return true
	}
	var diameter float64
	for i := range hull {
		for j := i + 1; j < len(hull); j++ {
			diameter = math.Max(diameter, hull[i].Distance(hull[j]))
		}
	}
	if diameter == 0 {
		return true
	}
	// Area / diameter bounds the hull's width across its longest axis.
	return 2*PolygonArea(hull)/diameter <= tol
}

// crossProduct computes the cross product of vectors OA and OB.
func crossProduct(o, a, b Point2D) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}
