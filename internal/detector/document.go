package detector

import (
	"gocv.io/x/gocv"

	"github.com/ayusman/steadyshot/internal/rectify"
)

// DocumentDetector reports the dominant quadrilateral in a frame as a document.
// It is a purpose-built stand-in for the object detector's category allow-list.
type DocumentDetector struct {
	rectifier *rectify.Rectifier
}

// NewDocumentDetector creates a DocumentDetector sharing the rectifier's contour settings.
func NewDocumentDetector(config rectify.Config) *DocumentDetector {
	return &DocumentDetector{rectifier: rectify.New(config)}
}

// Detect returns at most one candidate: the bounds of the largest quadrilateral.
func (d *DocumentDetector) Detect(frame *gocv.Mat, timestampMs int64) ([]Candidate, error) {
	if frame == nil || frame.Empty() {
		return nil, nil
	}

	quad, ok := d.rectifier.FindQuad(*frame)
	if !ok {
		return nil, nil
	}

	return []Candidate{{
		Box:      quad.Bounds(),
		Category: CategoryDocument,
		Score:    1,
	}}, nil
}

// Close is a no-op; the detector holds no native resources between calls.
func (d *DocumentDetector) Close() error {
	return nil
}
