package detector

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/steadyshot/internal/geometry"
)

// CascadeFile is the OpenCV frontal face model loaded by CascadeDetector.
const CascadeFile = "haarcascade_frontalface_default.xml"

// CascadeDetector finds faces in-process with an OpenCV Haar cascade.
// Results are ordered largest first so the nearest face wins.
type CascadeDetector struct {
	classifier gocv.CascadeClassifier
	mu         sync.Mutex
}

// NewCascadeDetector loads the cascade at path. An empty path searches the usual locations.
func NewCascadeDetector(path string) (*CascadeDetector, error) {
	if path == "" {
		path = findCascadeFile()
	}
	if path == "" {
		return nil, fmt.Errorf("%s not found", CascadeFile)
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, fmt.Errorf("load cascade %s", path)
	}

	return &CascadeDetector{classifier: classifier}, nil
}

// Detect returns the faces found in frame.
func (d *CascadeDetector) Detect(frame *gocv.Mat, timestampMs int64) ([]Candidate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if frame == nil || frame.Empty() {
		return nil, nil
	}

	rects := d.classifier.DetectMultiScale(*frame)
	sort.Slice(rects, func(i, j int) bool {
		return rects[i].Dx()*rects[i].Dy() > rects[j].Dx()*rects[j].Dy()
	})

	cands := make([]Candidate, 0, len(rects))
	for _, r := range rects {
		cands = append(cands, Candidate{
			Box:      geometry.FromRect(r),
			Category: CategoryFace,
			Score:    1,
		})
	}
	return cands, nil
}

// Close releases the classifier.
func (d *CascadeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier.Close()
}

func findCascadeFile() string {
	candidates := []string{
		filepath.Join("data", CascadeFile),
		filepath.Join(os.Getenv("HOME"), ".steadyshot", "data", CascadeFile),
		filepath.Join("/usr/share/opencv4/haarcascades", CascadeFile),
		filepath.Join("/usr/local/share/opencv4/haarcascades", CascadeFile),
		filepath.Join("/opt/homebrew/share/opencv4/haarcascades", CascadeFile),
	}
	return firstExisting(candidates)
}
