// Package stability decides when a tracked detection has held still long enough to capture.
package stability

import (
	"math"

	"github.com/ayusman/steadyshot/internal/geometry"
)

// Default evaluator settings.
const (
	// DefaultTolerance is the allowed per-axis drift as a fraction of the current box size.
	DefaultTolerance = 0.02
	// DefaultThresholdMs is how long the subject must hold still before it is locked in.
	DefaultThresholdMs = 800.0
)

// State is threaded across frames by the capture pipeline.
// The zero value is a fresh state with no reference box.
type State struct {
	Last     geometry.BoundingBox
	Tracking bool
	HoldMs   float64
}

// Evaluator classifies successive boxes as stable or moving.
type Evaluator struct {
	Tolerance   float64
	ThresholdMs float64
}

// New returns an Evaluator with the default tolerance and threshold.
func New() Evaluator {
	return Evaluator{
		Tolerance:   DefaultTolerance,
		ThresholdMs: DefaultThresholdMs,
	}
}

// Evaluate feeds the current box into the state and reports whether the subject is locked in.
//
// The first box of a cycle becomes the reference and is never locked in. A box within
// tolerance of the reference adds frameMs to the hold duration; any other box resets the
// hold duration and becomes the new reference.
func (e Evaluator) Evaluate(current geometry.BoundingBox, s State, frameMs float64) (State, bool) {
	if !s.Tracking {
		return State{Last: current, Tracking: true}, false
	}

	if !e.Stable(current, s.Last) {
		return State{Last: current, Tracking: true}, false
	}

	s.HoldMs += frameMs
	return s, s.HoldMs >= e.threshold()
}

// Stable reports whether current is within tolerance of prev on all four axes.
// Tolerance scales with the current box so the judgment is resolution independent.
func (e Evaluator) Stable(current, prev geometry.BoundingBox) bool {
	tol := e.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}

	dx := math.Abs(current.X - prev.X)
	dy := math.Abs(current.Y - prev.Y)
	dw := math.Abs(current.Width - prev.Width)
	dh := math.Abs(current.Height - prev.Height)

	return dx < current.Width*tol &&
		dy < current.Height*tol &&
		dw < current.Width*tol &&
		dh < current.Height*tol
}

// Progress returns the hold duration as a fraction of the threshold, capped at 1.
func (e Evaluator) Progress(s State) float64 {
	return math.Min(s.HoldMs/e.threshold(), 1)
}

func (e Evaluator) threshold() float64 {
	if e.ThresholdMs <= 0 {
		return DefaultThresholdMs
	}
	return e.ThresholdMs
}
