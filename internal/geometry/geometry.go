// Package geometry provides the box and polygon types shared by the capture pipeline.
package geometry

import (
	"errors"
	"image"
	"math"
	"sort"
)

// ErrNotQuadrilateral is returned when corner ordering is asked for anything but 4 points.
var ErrNotQuadrilateral = errors.New("quadrilateral requires exactly 4 points")

// BoundingBox is an axis-aligned rectangle in source-frame pixel coordinates.
type BoundingBox struct {
	X      float64 `json:"originX"`
	Y      float64 `json:"originY"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Point is a pixel coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Quad holds 4 corners in [top-left, top-right, bottom-right, bottom-left] order.
type Quad [4]Point

// Area returns the area of the box.
func (b BoundingBox) Area() float64 {
	return b.Width * b.Height
}

// Empty reports whether the box has no area.
func (b BoundingBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Rect converts the box to an integer rectangle, rounding each edge to the nearest pixel.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(
		int(math.Round(b.X)),
		int(math.Round(b.Y)),
		int(math.Round(b.X+b.Width)),
		int(math.Round(b.Y+b.Height)),
	)
}

// Pad grows the box by frac of each dimension on every side.
// The origin is clamped at zero; the padded size is kept, so a box near the
// top-left edge shifts rather than shrinks.
func (b BoundingBox) Pad(frac float64) BoundingBox {
	px := b.Width * frac
	py := b.Height * frac
	return BoundingBox{
		X:      math.Max(0, b.X-px),
		Y:      math.Max(0, b.Y-py),
		Width:  b.Width + 2*px,
		Height: b.Height + 2*py,
	}
}

// Within returns the part of the box that lies inside a width x height frame.
// The result may be empty.
func (b BoundingBox) Within(width, height int) image.Rectangle {
	return b.Rect().Intersect(image.Rect(0, 0, width, height))
}

// FromRect converts an integer rectangle into a BoundingBox.
func FromRect(r image.Rectangle) BoundingBox {
	return BoundingBox{
		X:      float64(r.Min.X),
		Y:      float64(r.Min.Y),
		Width:  float64(r.Dx()),
		Height: float64(r.Dy()),
	}
}

// CenterBox returns a box centered in a width x height frame covering frac of each dimension.
func CenterBox(width, height int, frac float64) BoundingBox {
	w := float64(width) * frac
	h := float64(height) * frac
	return BoundingBox{
		X:      (float64(width) - w) / 2,
		Y:      (float64(height) - h) / 2,
		Width:  w,
		Height: h,
	}
}

// OrderCorners sorts 4 points into [top-left, top-right, bottom-right, bottom-left].
// The two points with smaller y form the top pair; within each pair the smaller x is left.
func OrderCorners(pts []Point) (Quad, error) {
	if len(pts) != 4 {
		return Quad{}, ErrNotQuadrilateral
	}

	sorted := make([]Point, 4)
	copy(sorted, pts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Y < sorted[j].Y })

	top := sorted[:2]
	bottom := sorted[2:]
	sort.SliceStable(top, func(i, j int) bool { return top[i].X < top[j].X })
	sort.SliceStable(bottom, func(i, j int) bool { return bottom[i].X < bottom[j].X })

	return Quad{top[0], top[1], bottom[1], bottom[0]}, nil
}

// Area returns the enclosed area of the quad using the shoelace formula.
func (q Quad) Area() float64 {
	var sum float64
	for i := 0; i < 4; i++ {
		a := q[i]
		b := q[(i+1)%4]
		sum += a.X*b.Y - b.X*a.Y
	}
	return math.Abs(sum) / 2
}

// Bounds returns the axis-aligned bounding box of the quad.
func (q Quad) Bounds() BoundingBox {
	minX, minY := q[0].X, q[0].Y
	maxX, maxY := q[0].X, q[0].Y
	for _, p := range q[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return BoundingBox{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}
