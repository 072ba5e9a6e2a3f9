package scan

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/ayusman/steadyshot/internal/detector"
	"github.com/ayusman/steadyshot/internal/geometry"
	"github.com/ayusman/steadyshot/internal/rectify"
)

// DefaultFacePadding is the fraction of each face dimension added on every side before cropping.
const DefaultFacePadding = 0.35

// Strategy picks the target among a frame's detections and produces the captured image.
type Strategy interface {
	Mode() Mode
	// Select returns the box to track, or false when nothing in cands qualifies.
	Select(cands []detector.Candidate) (geometry.BoundingBox, bool)
	// Produce builds the capture image. The caller owns the returned Mat.
	Produce(frame gocv.Mat, box geometry.BoundingBox) (gocv.Mat, error)
}

// FaceStrategy tracks the most confident detection and crops it with padding.
type FaceStrategy struct {
	Padding float64
}

func (FaceStrategy) Mode() Mode { return ModeFace }

// Select returns the highest scoring candidate. Ties go to the earlier one.
func (s FaceStrategy) Select(cands []detector.Candidate) (geometry.BoundingBox, bool) {
	if len(cands) == 0 {
		return geometry.BoundingBox{}, false
	}
	best := 0
	for i := 1; i < len(cands); i++ {
		if cands[i].Score > cands[best].Score {
			best = i
		}
	}
	return cands[best].Box, true
}

// Produce crops box grown by Padding. The origin is clamped at the frame edge.
func (s FaceStrategy) Produce(frame gocv.Mat, box geometry.BoundingBox) (gocv.Mat, error) {
	img, err := rectify.Crop(frame, box.Pad(s.Padding))
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("face crop: %w", err)
	}
	return img, nil
}

// DocumentRectifier flattens the document found in a frame.
type DocumentRectifier interface {
	Rectify(frame gocv.Mat, roi geometry.BoundingBox) (rectify.Result, error)
}

// IDCardStrategy tracks the first document-like detection and flattens it.
type IDCardStrategy struct {
	Categories []string
	MinScore   float64
	Rectifier  DocumentRectifier
}

func (IDCardStrategy) Mode() Mode { return ModeIDCard }

// Select returns the first candidate in the allow-list.
func (s IDCardStrategy) Select(cands []detector.Candidate) (geometry.BoundingBox, bool) {
	allowed := detector.Filter(cands, s.Categories, s.MinScore)
	if len(allowed) == 0 {
		return geometry.BoundingBox{}, false
	}
	return allowed[0].Box, true
}

// Produce rectifies the whole frame using box as the region hint. When rectification
// fails, including a panic in native code, it falls back to an unpadded crop of box.
func (s IDCardStrategy) Produce(frame gocv.Mat, box geometry.BoundingBox) (gocv.Mat, error) {
	img, rerr := s.rectify(frame, box)
	if rerr == nil {
		return img, nil
	}

	img, err := rectify.Crop(frame, box)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("rectify document: %v; fallback crop: %w", rerr, err)
	}
	return img, nil
}

func (s IDCardStrategy) rectify(frame gocv.Mat, box geometry.BoundingBox) (img gocv.Mat, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	res, err := s.Rectifier.Rectify(frame, box)
	if err != nil {
		return gocv.Mat{}, err
	}
	return res.Image, nil
}

// StrategyFor builds the strategy for mode from config.
func StrategyFor(mode Mode, config Config) Strategy {
	config = config.withDefaults()
	if mode == ModeIDCard {
		det := detector.DocumentConfig()
		return IDCardStrategy{
			Categories: det.Categories,
			MinScore:   det.MinScore,
			Rectifier:  rectify.New(config.Rectify),
		}
	}
	return FaceStrategy{Padding: config.FacePadding}
}
