package geometry

import (
	"errors"
	"image"
	"math"
	"testing"
)

const epsilon = 1e-9

func TestOrderCorners(t *testing.T) {
	want := Quad{{X: 10, Y: 12}, {X: 300, Y: 8}, {X: 310, Y: 200}, {X: 5, Y: 190}}

	tests := []struct {
		name string
		in   []Point
	}{
		{
			name: "already ordered",
			in:   []Point{want[0], want[1], want[2], want[3]},
		},
		{
			name: "reversed",
			in:   []Point{want[3], want[2], want[1], want[0]},
		},
		{
			name: "counter-clockwise from bottom-right",
			in:   []Point{want[2], want[1], want[0], want[3]},
		},
		{
			name: "interleaved",
			in:   []Point{want[1], want[3], want[0], want[2]},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OrderCorners(tt.in)
			if err != nil {
				t.Fatalf("OrderCorners() error = %v", err)
			}
			if got != want {
				t.Errorf("OrderCorners() = %v, want %v", got, want)
			}
		})
	}
}

func TestOrderCorners_WrongCount(t *testing.T) {
	for _, n := range []int{0, 3, 5} {
		_, err := OrderCorners(make([]Point, n))
		if !errors.Is(err, ErrNotQuadrilateral) {
			t.Errorf("OrderCorners(%d points) error = %v, want ErrNotQuadrilateral", n, err)
		}
	}
}

func TestOrderCorners_DoesNotMutateInput(t *testing.T) {
	in := []Point{{X: 5, Y: 100}, {X: 1, Y: 1}, {X: 100, Y: 100}, {X: 100, Y: 2}}
	orig := make([]Point, len(in))
	copy(orig, in)

	if _, err := OrderCorners(in); err != nil {
		t.Fatalf("OrderCorners() error = %v", err)
	}

	for i := range in {
		if in[i] != orig[i] {
			t.Fatalf("input modified at %d: got %v, want %v", i, in[i], orig[i])
		}
	}
}

func TestQuad_Area(t *testing.T) {
	q := Quad{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 50}, {X: 0, Y: 50}}
	if got := q.Area(); math.Abs(got-5000) > epsilon {
		t.Errorf("Area() = %f, want 5000", got)
	}

	b := q.Bounds()
	if b != (BoundingBox{X: 0, Y: 0, Width: 100, Height: 50}) {
		t.Errorf("Bounds() = %+v", b)
	}
}

func TestBoundingBox_Pad(t *testing.T) {
	tests := []struct {
		name string
		box  BoundingBox
		frac float64
		want BoundingBox
	}{
		{
			name: "interior box grows symmetrically",
			box:  BoundingBox{X: 100, Y: 100, Width: 100, Height: 200},
			frac: 0.35,
			want: BoundingBox{X: 65, Y: 30, Width: 170, Height: 340},
		},
		{
			name: "origin clamped at zero keeps padded size",
			box:  BoundingBox{X: 10, Y: 5, Width: 100, Height: 100},
			frac: 0.35,
			want: BoundingBox{X: 0, Y: 0, Width: 170, Height: 170},
		},
		{
			name: "zero padding is identity",
			box:  BoundingBox{X: 1, Y: 2, Width: 3, Height: 4},
			frac: 0,
			want: BoundingBox{X: 1, Y: 2, Width: 3, Height: 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.box.Pad(tt.frac)
			if math.Abs(got.X-tt.want.X) > epsilon || math.Abs(got.Y-tt.want.Y) > epsilon ||
				math.Abs(got.Width-tt.want.Width) > epsilon || math.Abs(got.Height-tt.want.Height) > epsilon {
				t.Errorf("Pad(%v) = %+v, want %+v", tt.frac, got, tt.want)
			}
		})
	}
}

func TestBoundingBox_Within(t *testing.T) {
	box := BoundingBox{X: 600, Y: 400, Width: 100, Height: 150}
	got := box.Within(640, 480)
	want := image.Rect(600, 400, 640, 480)
	if got != want {
		t.Errorf("Within() = %v, want %v", got, want)
	}

	outside := BoundingBox{X: 700, Y: 500, Width: 10, Height: 10}
	if r := outside.Within(640, 480); !r.Empty() {
		t.Errorf("Within() for box outside frame = %v, want empty", r)
	}
}

func TestCenterBox(t *testing.T) {
	got := CenterBox(1280, 720, 0.5)
	want := BoundingBox{X: 320, Y: 180, Width: 640, Height: 360}
	if got != want {
		t.Errorf("CenterBox() = %+v, want %+v", got, want)
	}
}

func TestFromRect(t *testing.T) {
	r := image.Rect(10, 20, 110, 70)
	b := FromRect(r)
	if b.Rect() != r {
		t.Errorf("FromRect(%v).Rect() = %v", r, b.Rect())
	}
	if b.Area() != 5000 {
		t.Errorf("Area() = %f, want 5000", b.Area())
	}
}
