// Package detector defines the object detection contract consumed by the capture pipeline,
// plus the detector implementations the session can construct.
package detector

import (
	"gocv.io/x/gocv"

	"github.com/ayusman/steadyshot/internal/geometry"
)

// Well-known categories.
const (
	// CategoryFace is reported by face detectors.
	CategoryFace = "face"
	// CategoryDocument is reported by the contour document detector.
	CategoryDocument = "document"
)

// DocumentCategories is the allow-list used in ID card mode.
// A generic object detector has no document class, so objects of similar shape stand in for one.
var DocumentCategories = []string{"book", "cell phone", "remote", "laptop", CategoryDocument}

// Candidate is a single detected object in a frame.
type Candidate struct {
	Box      geometry.BoundingBox `json:"box"`
	Category string               `json:"category,omitempty"`
	Score    float64              `json:"score"`
}

// Detector defines the interface for object detection implementations.
type Detector interface {
	// Detect analyzes a video frame captured at timestampMs and returns the detected objects.
	// Returns an empty slice if nothing is detected.
	Detect(frame *gocv.Mat, timestampMs int64) ([]Candidate, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Factory constructs a detector for the given configuration.
type Factory func(config Config) (Detector, error)

// Config holds configuration options for detection.
type Config struct {
	// Categories restricts results to these labels. Empty means no filtering
	// (single-subject detectors such as faces).
	Categories []string

	// MinScore is the minimum detection confidence (0.0-1.0).
	MinScore float64

	// Task names the model family: "face" or "object".
	Task string
}

// Detection tasks.
const (
	TaskFace   = "face"
	TaskObject = "object"
)

// DefaultConfig returns a Config for face detection.
func DefaultConfig() Config {
	return Config{
		Task:     TaskFace,
		MinScore: 0.5,
	}
}

// DocumentConfig returns a Config for ID card detection.
func DocumentConfig() Config {
	categories := make([]string, len(DocumentCategories))
	copy(categories, DocumentCategories)
	return Config{
		Task:       TaskObject,
		Categories: categories,
		MinScore:   0.5,
	}
}

// Filter keeps candidates whose category is in categories (when non-empty)
// and whose score is at least minScore. Order is preserved.
func Filter(cands []Candidate, categories []string, minScore float64) []Candidate {
	allowed := make(map[string]bool, len(categories))
	for _, c := range categories {
		allowed[c] = true
	}

	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Score < minScore {
			continue
		}
		if len(allowed) > 0 && !allowed[c.Category] {
			continue
		}
		out = append(out, c)
	}
	return out
}
