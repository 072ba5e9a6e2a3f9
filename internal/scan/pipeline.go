// Package scan implements the detection, stability and capture state machine.
package scan

import (
	"bytes"
	"fmt"
	"log"

	"gocv.io/x/gocv"

	"github.com/ayusman/steadyshot/internal/detector"
	"github.com/ayusman/steadyshot/internal/geometry"
	"github.com/ayusman/steadyshot/internal/rectify"
	"github.com/ayusman/steadyshot/internal/stability"
)

// Pipeline timing defaults.
const (
	// TargetFPS caps how often frames are processed.
	TargetFPS = 30
	// DefaultFrameIntervalMs is the minimum spacing between processed ticks.
	DefaultFrameIntervalMs = 1000.0 / TargetFPS
	// DefaultCooldownMs is how long CAPTURED is shown before searching again.
	DefaultCooldownMs = 2000.0
	// ManualBoxFraction is the share of each frame dimension covered by a synthesized manual box.
	ManualBoxFraction = 0.5
)

// Config holds pipeline settings. Zero fields take their defaults.
type Config struct {
	Mode            Mode
	FrameIntervalMs float64
	CooldownMs      float64
	FacePadding     float64
	Stability       stability.Evaluator
	Rectify         rectify.Config
	// Logger receives per-frame and capture failures. Nil means log.Default().
	Logger *log.Logger
	// OnCapture is called once for every capture produced.
	OnCapture func(Result)
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeFace
	}
	if c.FrameIntervalMs <= 0 {
		c.FrameIntervalMs = DefaultFrameIntervalMs
	}
	if c.CooldownMs <= 0 {
		c.CooldownMs = DefaultCooldownMs
	}
	if c.FacePadding <= 0 {
		c.FacePadding = DefaultFacePadding
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// Result is a finished capture. It is immutable once emitted.
type Result struct {
	// Image is PNG encoded.
	Image     []byte `json:"-"`
	Mode      Mode   `json:"mode"`
	Timestamp int64  `json:"timestamp"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Manual    bool   `json:"manual"`
}

// Pipeline turns per-frame detections into capture decisions.
//
// Per tick:
// 1. Leave CAPTURED once the cooldown has elapsed, clearing all stability state
// 2. Drop the tick if it arrives sooner than the frame interval after the last one
// 3. Run the detector and let the mode's strategy pick a target
// 4. No target resets stability; a target is fed to the stability evaluator
// 5. Once locked in, produce exactly one capture and enter CAPTURED
//
// A Pipeline is not safe for concurrent use; the session drives it from one goroutine.
type Pipeline struct {
	config     Config
	strategy   Strategy
	detector   detector.Detector
	stability  stability.Evaluator
	state      stability.State
	status     Status
	progress   float64
	inFlight   bool
	capturedAt float64
	lastTick   float64
	ticked     bool
	log        *log.Logger
}

// New creates a pipeline in INITIALIZING. It does nothing until MarkReady is called.
func New(config Config) *Pipeline {
	config = config.withDefaults()
	return &Pipeline{
		config:    config,
		strategy:  StrategyFor(config.Mode, config),
		stability: config.Stability,
		status:    StatusInitializing,
		log:       config.Logger,
	}
}

// SetFrameRate paces processing to a source delivering fps frames per second,
// never faster than TargetFPS. Non-positive rates mean TargetFPS.
func (p *Pipeline) SetFrameRate(fps int) {
	if fps <= 0 || fps > TargetFPS {
		fps = TargetFPS
	}
	p.config.FrameIntervalMs = 1000.0 / float64(fps)
}

// FrameIntervalMs is the minimum spacing between processed ticks.
func (p *Pipeline) FrameIntervalMs() float64 { return p.config.FrameIntervalMs }

// MarkReady attaches the detector once it and the frame source are available, and starts searching.
func (p *Pipeline) MarkReady(det detector.Detector) {
	if p.status != StatusInitializing {
		return
	}
	p.detector = det
	p.status = StatusSearching
}

// Fail moves the pipeline to ERROR. It stays there until Reset.
func (p *Pipeline) Fail(err error) {
	p.log.Printf("scan: %s pipeline failed: %v", p.config.Mode, err)
	p.detector = nil
	p.clear()
	p.status = StatusError
}

// Reset discards all tracking state and the detector, switches to mode and
// returns to INITIALIZING.
func (p *Pipeline) Reset(mode Mode) {
	if mode == "" {
		mode = p.config.Mode
	}
	p.config.Mode = mode
	p.strategy = StrategyFor(mode, p.config)
	p.detector = nil
	p.clear()
	p.status = StatusInitializing
}

func (p *Pipeline) clear() {
	p.state = stability.State{}
	p.progress = 0
	p.inFlight = false
	p.capturedAt = 0
	p.ticked = false
}

// Status returns the current state.
func (p *Pipeline) Status() Status { return p.status }

// Progress returns the hold-still progress in [0, 1].
func (p *Pipeline) Progress() float64 { return p.progress }

// Mode returns the active capture mode.
func (p *Pipeline) Mode() Mode { return p.config.Mode }

// Target returns the box currently being tracked.
func (p *Pipeline) Target() (geometry.BoundingBox, bool) {
	return p.state.Last, p.state.Tracking
}

// Tick processes one frame at time nowMs. It returns the capture produced on this tick, if any.
func (p *Pipeline) Tick(frame *gocv.Mat, nowMs float64) (Result, bool) {
	switch p.status {
	case StatusInitializing, StatusError:
		return Result{}, false
	case StatusCaptured:
		if nowMs-p.capturedAt < p.config.CooldownMs {
			return Result{}, false
		}
		p.clear()
		p.status = StatusSearching
		return Result{}, false
	}

	if p.ticked && nowMs-p.lastTick < p.config.FrameIntervalMs {
		return Result{}, false
	}
	if frame == nil || frame.Empty() {
		return Result{}, false
	}
	p.lastTick = nowMs
	p.ticked = true

	cands, err := p.detector.Detect(frame, int64(nowMs))
	if err != nil {
		p.log.Printf("scan: %s detection failed, skipping frame: %v", p.config.Mode, err)
		return Result{}, false
	}

	box, ok := p.strategy.Select(cands)
	if !ok {
		p.state = stability.State{}
		p.progress = 0
		p.status = StatusSearching
		return Result{}, false
	}

	state, locked := p.stability.Evaluate(box, p.state, p.config.FrameIntervalMs)
	p.state = state
	p.progress = p.stability.Progress(state)
	p.status = StatusLocking

	if !locked {
		return Result{}, false
	}
	return p.capture(*frame, box, nowMs, false)
}

// Trigger captures immediately when searching or locking. It uses the tracked box,
// or a centered box covering half of each frame dimension when nothing is tracked.
// In any other state it does nothing.
func (p *Pipeline) Trigger(frame *gocv.Mat, nowMs float64) (Result, bool) {
	if !p.status.Triggerable() {
		return Result{}, false
	}
	if frame == nil || frame.Empty() {
		p.log.Printf("scan: manual %s capture ignored, no frame", p.config.Mode)
		return Result{}, false
	}

	box, ok := p.Target()
	if !ok {
		box = geometry.CenterBox(frame.Cols(), frame.Rows(), ManualBoxFraction)
	}
	return p.capture(*frame, box, nowMs, true)
}

// capture produces at most one result per cycle. A failed capture is logged and
// still enters CAPTURED so the cooldown brings the pipeline back to searching.
func (p *Pipeline) capture(frame gocv.Mat, box geometry.BoundingBox, nowMs float64, manual bool) (Result, bool) {
	if p.inFlight {
		return Result{}, false
	}
	p.inFlight = true
	p.status = StatusCaptured
	p.capturedAt = nowMs

	res, err := p.produce(frame, box)
	if err != nil {
		p.log.Printf("scan: %s capture failed: %v", p.config.Mode, err)
		return Result{}, false
	}
	res.Timestamp = int64(nowMs)
	res.Manual = manual

	if p.config.OnCapture != nil {
		p.config.OnCapture(res)
	}
	return res, true
}

func (p *Pipeline) produce(frame gocv.Mat, box geometry.BoundingBox) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	img, err := p.strategy.Produce(frame, box)
	if err != nil {
		return Result{}, err
	}
	defer img.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return Result{}, fmt.Errorf("encode png: %w", err)
	}
	defer buf.Close()

	return Result{
		Image:  bytes.Clone(buf.GetBytes()),
		Mode:   p.config.Mode,
		Width:  img.Cols(),
		Height: img.Rows(),
	}, nil
}
