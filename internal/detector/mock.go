package detector

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/steadyshot/internal/geometry"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu     sync.Mutex
	cands  []Candidate
	err    error
	calls  int
	closed bool
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetCandidates sets the candidates that will be returned by Detect.
func (m *MockDetector) SetCandidates(cands []Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cands = cands
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Detect returns the pre-configured candidates or error.
func (m *MockDetector) Detect(frame *gocv.Mat, timestampMs int64) ([]Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.cands, nil
}

// Close marks the detector closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns how many times Detect has been called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close has been called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// FaceCandidate returns a preset face detection centred in a 640x480 frame.
func FaceCandidate() Candidate {
	return Candidate{
		Box:      geometry.BoundingBox{X: 240, Y: 140, Width: 160, Height: 200},
		Category: CategoryFace,
		Score:    0.95,
	}
}

// CardCandidate returns a preset ID card sized detection in a 640x480 frame.
func CardCandidate() Candidate {
	return Candidate{
		Box:      geometry.BoundingBox{X: 120, Y: 120, Width: 400, Height: 250},
		Category: "cell phone",
		Score:    0.8,
	}
}
