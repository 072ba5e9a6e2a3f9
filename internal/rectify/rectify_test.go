package rectify

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"gocv.io/x/gocv"

	"github.com/ayusman/steadyshot/internal/geometry"
)

// documentCorners is a skewed card in a 640x480 frame, listed TL, TR, BR, BL.
var documentCorners = geometry.Quad{
	{X: 120, Y: 80},
	{X: 520, Y: 100},
	{X: 560, Y: 400},
	{X: 90, Y: 380},
}

// Corner markers sit 20% of the way from each corner toward the centre of the card.
var markers = []struct {
	name   string
	center image.Point
	color  color.RGBA
}{
	{name: "top-left", center: image.Pt(160, 112), color: color.RGBA{R: 255, A: 255}},
	{name: "top-right", center: image.Pt(480, 128), color: color.RGBA{G: 255, A: 255}},
	{name: "bottom-right", center: image.Pt(512, 368), color: color.RGBA{B: 255, A: 255}},
	{name: "bottom-left", center: image.Pt(136, 352), color: color.RGBA{R: 255, G: 255, A: 255}},
}

// newDocumentFrame draws a white card with coloured corner markers on a black frame.
func newDocumentFrame(t *testing.T) gocv.Mat {
	t.Helper()

	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)

	pts := make([]image.Point, 0, 4)
	for _, c := range documentCorners {
		pts = append(pts, image.Pt(int(c.X), int(c.Y)))
	}
	poly := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
	defer poly.Close()

	gocv.FillPoly(&frame, poly, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	for _, m := range markers {
		gocv.Circle(&frame, m.center, 12, m.color, -1)
	}

	return frame
}

// classify maps a BGR pixel to the index of the marker colour it matches, or -1.
func classify(v gocv.Vecb) int {
	b, g, r := v[0], v[1], v[2]
	switch {
	case r > 200 && g < 60 && b < 60:
		return 0
	case g > 200 && r < 60 && b < 60:
		return 1
	case b > 200 && r < 60 && g < 60:
		return 2
	case r > 200 && g > 200 && b < 60:
		return 3
	}
	return -1
}

func TestRectify_PerspectiveCorrection(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	frame := newDocumentFrame(t)
	defer frame.Close()

	r := New(DefaultConfig())
	res, err := r.Rectify(frame, geometry.BoundingBox{X: 90, Y: 80, Width: 470, Height: 320})
	if err != nil {
		t.Fatalf("Rectify() error = %v", err)
	}
	defer res.Image.Close()

	if !res.Corrected {
		t.Fatal("expected perspective correction, got fallback crop")
	}

	if res.Image.Cols() != OutputWidth || res.Image.Rows() != OutputHeight {
		t.Fatalf("output size = %dx%d, want %dx%d", res.Image.Cols(), res.Image.Rows(), OutputWidth, OutputHeight)
	}

	// Found corners should reconstruct the drawn card.
	for i, want := range documentCorners {
		got := res.Corners[i]
		if math.Hypot(got.X-want.X, got.Y-want.Y) > 6 {
			t.Errorf("corner %d = %+v, want near %+v", i, got, want)
		}
	}

	// Each marker must land in the output quadrant of its own corner.
	var counts [4][4]int
	halfW, halfH := OutputWidth/2, OutputHeight/2
	for y := 0; y < res.Image.Rows(); y += 2 {
		for x := 0; x < res.Image.Cols(); x += 2 {
			idx := classify(res.Image.GetVecbAt(y, x))
			if idx < 0 {
				continue
			}
			quadrant := 0
			switch {
			case x >= halfW && y < halfH:
				quadrant = 1
			case x >= halfW && y >= halfH:
				quadrant = 2
			case x < halfW && y >= halfH:
				quadrant = 3
			}
			counts[idx][quadrant]++
		}
	}

	for i, m := range markers {
		if counts[i][i] == 0 {
			t.Errorf("%s marker not found in its quadrant (counts %v)", m.name, counts[i])
		}
		for q := 0; q < 4; q++ {
			if q != i && counts[i][q] > 0 {
				t.Errorf("%s marker leaked into quadrant %d (counts %v)", m.name, q, counts[i])
			}
		}
	}

	// The card fills the output, so the centre is white.
	center := res.Image.GetVecbAt(halfH, halfW)
	if center[0] < 200 || center[1] < 200 || center[2] < 200 {
		t.Errorf("centre pixel = %v, want white", center)
	}
}

func TestRectify_FallbackWithoutQuad(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	roi := geometry.BoundingBox{X: 100, Y: 50, Width: 200, Height: 120}

	res, err := New(DefaultConfig()).Rectify(frame, roi)
	if err != nil {
		t.Fatalf("Rectify() error = %v", err)
	}
	defer res.Image.Close()

	if res.Corrected {
		t.Error("blank frame should fall back to a crop")
	}
	if res.Image.Cols() != 200 || res.Image.Rows() != 120 {
		t.Errorf("crop size = %dx%d, want 200x120", res.Image.Cols(), res.Image.Rows())
	}
}

func TestRectify_FallbackBelowMinArea(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	// 40x40 square, well under MinQuadArea.
	gocv.Rectangle(&frame, image.Rect(300, 200, 340, 240), color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)

	roi := geometry.BoundingBox{X: 290, Y: 190, Width: 60, Height: 60}
	r := New(DefaultConfig())

	if _, ok := r.FindQuad(frame); ok {
		t.Error("FindQuad() should reject a quad below the minimum area")
	}

	res, err := r.Rectify(frame, roi)
	if err != nil {
		t.Fatalf("Rectify() error = %v", err)
	}
	defer res.Image.Close()

	if res.Corrected {
		t.Error("tiny quad should fall back to a crop")
	}
	if res.Image.Cols() != 60 || res.Image.Rows() != 60 {
		t.Errorf("crop size = %dx%d, want 60x60", res.Image.Cols(), res.Image.Rows())
	}
}

func TestRectify_Errors(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	r := New(DefaultConfig())

	t.Run("empty frame", func(t *testing.T) {
		empty := gocv.NewMat()
		defer empty.Close()

		_, err := r.Rectify(empty, geometry.BoundingBox{Width: 10, Height: 10})
		if !errors.Is(err, ErrEmptyFrame) {
			t.Errorf("Rectify() error = %v, want ErrEmptyFrame", err)
		}
	})

	t.Run("roi outside frame", func(t *testing.T) {
		frame := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
		defer frame.Close()

		_, err := r.Rectify(frame, geometry.BoundingBox{X: 200, Y: 200, Width: 10, Height: 10})
		if !errors.Is(err, ErrEmptyRegion) {
			t.Errorf("Rectify() error = %v, want ErrEmptyRegion", err)
		}
	})
}

func TestCrop_ClipsToFrame(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	out, err := Crop(frame, geometry.BoundingBox{X: 600, Y: 400, Width: 100, Height: 100})
	if err != nil {
		t.Fatalf("Crop() error = %v", err)
	}
	defer out.Close()

	if out.Cols() != 40 || out.Rows() != 80 {
		t.Errorf("crop size = %dx%d, want 40x80", out.Cols(), out.Rows())
	}
}

func TestNew_Defaults(t *testing.T) {
	r := New(Config{BlurSize: 4})
	if w, h := r.Size(); w != OutputWidth || h != OutputHeight {
		t.Errorf("Size() = %dx%d, want %dx%d", w, h, OutputWidth, OutputHeight)
	}
	if r.config.BlurSize != BlurSize {
		t.Errorf("even blur size should fall back to %d, got %d", BlurSize, r.config.BlurSize)
	}
	if r.config.MinArea != MinQuadArea {
		t.Errorf("MinArea = %f, want %f", r.config.MinArea, MinQuadArea)
	}
}
