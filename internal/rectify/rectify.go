// Package rectify flattens a photographed document into a top-down rectangular image using GoCV (OpenCV).
package rectify

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/ayusman/steadyshot/internal/geometry"
)

// Rectifier defaults.
const (
	// OutputWidth and OutputHeight are the size of every rectified document.
	OutputWidth  = 800
	OutputHeight = 500
	// MinQuadArea rejects tiny spurious quadrilaterals (pixels squared).
	MinQuadArea = 5000.0
	// ApproxEpsilon is the polygon simplification tolerance as a fraction of contour perimeter.
	ApproxEpsilon = 0.02
	// BlurSize is the Gaussian kernel size applied before edge detection.
	BlurSize = 5
	// CannyLow and CannyHigh are the hysteresis thresholds of the edge detector.
	CannyLow  = 75
	CannyHigh = 200
)

// ErrEmptyFrame is returned when the frame has no pixels.
var ErrEmptyFrame = errors.New("frame is empty")

// ErrEmptyRegion is returned when the fallback crop region lies outside the frame.
var ErrEmptyRegion = errors.New("region of interest does not overlap frame")

// Config holds rectifier settings. Zero fields take the package defaults.
type Config struct {
	Width     int
	Height    int
	MinArea   float64
	Epsilon   float64
	BlurSize  int
	CannyLow  float32
	CannyHigh float32
}

// DefaultConfig returns a Config with the package defaults.
func DefaultConfig() Config {
	return Config{
		Width:     OutputWidth,
		Height:    OutputHeight,
		MinArea:   MinQuadArea,
		Epsilon:   ApproxEpsilon,
		BlurSize:  BlurSize,
		CannyLow:  CannyLow,
		CannyHigh: CannyHigh,
	}
}

// Result is the outcome of a rectification.
// The caller owns Image and must close it.
type Result struct {
	Image gocv.Mat
	// Corrected is false when the output is a plain crop of the region of interest.
	Corrected bool
	// Corners is the source quadrilateral when Corrected is true.
	Corners geometry.Quad
}

// Rectifier finds the dominant quadrilateral in a frame and warps it to a fixed-size rectangle.
type Rectifier struct {
	config Config
}

// New creates a Rectifier, filling unset config fields with defaults.
func New(config Config) *Rectifier {
	def := DefaultConfig()
	if config.Width <= 0 || config.Height <= 0 {
		config.Width, config.Height = def.Width, def.Height
	}
	if config.MinArea <= 0 {
		config.MinArea = def.MinArea
	}
	if config.Epsilon <= 0 {
		config.Epsilon = def.Epsilon
	}
	if config.BlurSize <= 0 || config.BlurSize%2 == 0 {
		config.BlurSize = def.BlurSize
	}
	if config.CannyLow <= 0 || config.CannyHigh <= 0 {
		config.CannyLow, config.CannyHigh = def.CannyLow, def.CannyHigh
	}
	return &Rectifier{config: config}
}

// Rectify produces a perspective-corrected image of the document in frame.
//
// Algorithm:
// 1. Grayscale, Gaussian blur, Canny edge map
// 2. External contours, each simplified with approxPolyDP (2% of perimeter)
// 3. Keep the largest 4-vertex polygon
// 4. If none, or its area is below MinArea, crop roi unchanged
// 5. Otherwise order corners TL, TR, BR, BL and warp them onto the output rectangle
//
// Inconclusive geometry never fails; an error is returned only when not even the
// fallback crop can be produced.
func (r *Rectifier) Rectify(frame gocv.Mat, roi geometry.BoundingBox) (Result, error) {
	if frame.Empty() {
		return Result{}, ErrEmptyFrame
	}

	quad, ok := r.FindQuad(frame)
	if !ok {
		img, err := Crop(frame, roi)
		if err != nil {
			return Result{}, err
		}
		return Result{Image: img}, nil
	}

	return Result{
		Image:     r.Warp(frame, quad),
		Corrected: true,
		Corners:   quad,
	}, nil
}

// FindQuad returns the largest 4-vertex contour in frame whose area is at least MinArea.
func (r *Rectifier) FindQuad(frame gocv.Mat) (geometry.Quad, bool) {
	if frame.Empty() {
		return geometry.Quad{}, false
	}

	edges := r.edgeMap(frame)
	defer edges.Close()

	contours := gocv.FindContours(edges, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var best []image.Point
	var bestArea float64

	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		pts, area, ok := r.approxQuad(contour)
		if ok && area > bestArea {
			best = pts
			bestArea = area
		}
	}

	if best == nil || bestArea < r.config.MinArea {
		return geometry.Quad{}, false
	}

	corners := make([]geometry.Point, len(best))
	for i, p := range best {
		corners[i] = geometry.Point{X: float64(p.X), Y: float64(p.Y)}
	}

	quad, err := geometry.OrderCorners(corners)
	if err != nil {
		return geometry.Quad{}, false
	}
	return quad, true
}

// Warp maps quad onto the configured output rectangle.
// The caller owns the returned Mat.
func (r *Rectifier) Warp(frame gocv.Mat, quad geometry.Quad) gocv.Mat {
	w, h := float32(r.config.Width), float32(r.config.Height)

	src := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: float32(quad[0].X), Y: float32(quad[0].Y)},
		{X: float32(quad[1].X), Y: float32(quad[1].Y)},
		{X: float32(quad[2].X), Y: float32(quad[2].Y)},
		{X: float32(quad[3].X), Y: float32(quad[3].Y)},
	})
	defer src.Close()

	dst := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: 0, Y: 0},
		{X: w, Y: 0},
		{X: w, Y: h},
		{X: 0, Y: h},
	})
	defer dst.Close()

	transform := gocv.GetPerspectiveTransform2f(src, dst)
	defer transform.Close()

	out := gocv.NewMat()
	gocv.WarpPerspective(frame, &out, transform, image.Pt(r.config.Width, r.config.Height))
	return out
}

// Size returns the rectified output size.
func (r *Rectifier) Size() (int, int) {
	return r.config.Width, r.config.Height
}

// edgeMap returns a binary edge image of frame. The caller owns the returned Mat.
func (r *Rectifier) edgeMap(frame gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()

	switch frame.Channels() {
	case 4:
		gocv.CvtColor(frame, &gray, gocv.ColorBGRAToGray)
	case 3:
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	default:
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	k := r.config.BlurSize
	gocv.GaussianBlur(gray, &blurred, image.Pt(k, k), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	gocv.Canny(blurred, &edges, r.config.CannyLow, r.config.CannyHigh)
	return edges
}

// approxQuad simplifies a contour and reports its vertices when it has exactly four.
func (r *Rectifier) approxQuad(contour gocv.PointVector) ([]image.Point, float64, bool) {
	if contour.Size() < 4 {
		return nil, 0, false
	}

	peri := gocv.ArcLength(contour, true)
	approx := gocv.ApproxPolyDP(contour, r.config.Epsilon*peri, true)
	defer approx.Close()

	if approx.Size() != 4 {
		return nil, 0, false
	}

	return approx.ToPoints(), gocv.ContourArea(contour), true
}

// Crop copies the part of roi that lies inside frame into a new Mat.
// The caller owns the returned Mat; nothing is allocated when an error is returned.
func Crop(frame gocv.Mat, roi geometry.BoundingBox) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.Mat{}, ErrEmptyFrame
	}

	rect := roi.Within(frame.Cols(), frame.Rows())
	if rect.Empty() {
		return gocv.Mat{}, fmt.Errorf("crop %v: %w", roi.Rect(), ErrEmptyRegion)
	}

	region := frame.Region(rect)
	defer region.Close()

	return region.Clone(), nil
}
