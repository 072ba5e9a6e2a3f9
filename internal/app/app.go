// Package app provides the capture session that drives the scan pipeline against a camera and detector.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/steadyshot/internal/capture"
	"github.com/ayusman/steadyshot/internal/detector"
	"github.com/ayusman/steadyshot/internal/geometry"
	"github.com/ayusman/steadyshot/internal/rectify"
	"github.com/ayusman/steadyshot/internal/scan"
)

// Session timing defaults.
const (
	// DefaultTickInterval is the run loop cadence, one tick per display refresh.
	// The pipeline drops ticks that arrive faster than its own frame interval.
	DefaultTickInterval = time.Second / 60
	// DefaultFallbackAfter is how long a mode may go without a capture before
	// the manual trigger is highlighted.
	DefaultFallbackAfter = 60 * time.Second
)

var (
	// ErrNotRunning is returned when a session operation needs the run loop.
	ErrNotRunning = errors.New("session is not running")
	// ErrTriggerIgnored is returned when a manual capture is requested outside SEARCHING or LOCKING.
	ErrTriggerIgnored = errors.New("manual capture ignored in current state")
	// ErrCaptureFailed is returned when a manual capture was accepted but no image could be produced.
	ErrCaptureFailed = errors.New("manual capture failed")
)

// Config holds configuration options for a Session.
type Config struct {
	Mode   scan.Mode
	Camera capture.Camera
	// Detectors builds a detector for a mode. Nil means DetectorFactory("").
	Detectors detector.Factory
	// Scan tunes the pipeline. Its Mode, Logger and OnCapture are set by the session.
	Scan          scan.Config
	TickInterval  time.Duration
	FallbackAfter time.Duration
	Logger        *log.Logger
	// OnCapture receives every capture. It runs on the session goroutine.
	OnCapture func(scan.Result)
	// Now is the session clock. Nil means time.Now.
	Now func() time.Time
}

// Snapshot is the observable state of a session.
type Snapshot struct {
	Status   scan.Status `json:"status"`
	Message  string      `json:"message"`
	Progress float64     `json:"progress"`
	Mode     scan.Mode   `json:"mode"`
	Running  bool        `json:"running"`
	// Target is the tracked box, valid when Tracking is set.
	Target         geometry.BoundingBox `json:"target"`
	Tracking       bool                 `json:"tracking"`
	ManualFallback bool                 `json:"manualFallback"`
}

// Session owns the detector and camera lifecycles and the loop that drives the pipeline.
type Session struct {
	config   Config
	log      *log.Logger
	pipeline *scan.Pipeline

	// lifecycle serializes Start, Stop and SetMode.
	lifecycle sync.Mutex
	det       detector.Detector
	started   bool
	wg        sync.WaitGroup
	triggerCh chan triggerRequest

	mu          sync.RWMutex
	stopCh      chan struct{}
	mode        scan.Mode
	snapshot    Snapshot
	lastCapture time.Time
	latest      gocv.Mat
	hasLatest   bool
	subs        map[chan Snapshot]struct{}
}

type triggerRequest struct {
	reply chan triggerReply
}

type triggerReply struct {
	result scan.Result
	err    error
}

// New creates a Session in INITIALIZING. Nothing is opened until Start.
func New(config Config) *Session {
	if config.Mode == "" {
		config.Mode = scan.ModeFace
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	if config.FallbackAfter <= 0 {
		config.FallbackAfter = DefaultFallbackAfter
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Detectors == nil {
		config.Detectors = DetectorFactory("", config.Logger)
	}

	s := &Session{
		config:    config,
		log:       config.Logger,
		mode:      config.Mode,
		triggerCh: make(chan triggerRequest),
		subs:      make(map[chan Snapshot]struct{}),
	}

	scanConfig := config.Scan
	scanConfig.Mode = config.Mode
	scanConfig.Logger = config.Logger
	scanConfig.OnCapture = s.handleCapture
	s.pipeline = scan.New(scanConfig)
	s.lastCapture = config.Now()
	s.publish()

	return s
}

// DetectorFactory tries the MediaPipe vision service first and falls back to
// in-process OpenCV detectors: a Haar cascade for faces, contour detection for documents.
func DetectorFactory(cascadePath string, logger *log.Logger) detector.Factory {
	if logger == nil {
		logger = log.Default()
	}
	return func(config detector.Config) (detector.Detector, error) {
		svc, err := detector.NewServiceDetector(config)
		if err == nil {
			logger.Printf("Using MediaPipe %s detection", config.Task)
			return svc, nil
		}
		logger.Printf("MediaPipe not available (%v), using OpenCV %s detection", err, config.Task)

		if config.Task == detector.TaskObject {
			return detector.NewDocumentDetector(rectify.DefaultConfig()), nil
		}
		return detector.NewCascadeDetector(cascadePath)
	}
}

// DetectorConfig returns the detector settings for mode.
func DetectorConfig(mode scan.Mode) detector.Config {
	if mode == scan.ModeIDCard {
		return detector.DocumentConfig()
	}
	return detector.DefaultConfig()
}

// Start builds the detector, opens the camera and starts the run loop.
// On failure the session is left in ERROR; Start or SetMode retries.
func (s *Session) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.running() {
		return nil
	}

	s.started = true
	mode := s.Mode()
	s.pipeline.Reset(mode)
	s.publish()
	return s.start(mode)
}

// start builds the detector, opens the camera and hands both to the run loop.
// Callers hold lifecycle and have reset the pipeline.
func (s *Session) start(mode scan.Mode) error {
	det, err := s.config.Detectors(DetectorConfig(mode))
	if err != nil {
		err = fmt.Errorf("create %s detector: %w", mode, err)
		s.pipeline.Fail(err)
		s.publish()
		return err
	}

	if err := s.config.Camera.Open(); err != nil {
		det.Close()
		err = fmt.Errorf("open camera: %w", err)
		s.pipeline.Fail(err)
		s.publish()
		return err
	}

	s.pipeline.SetFrameRate(s.config.Camera.FPS())
	s.ready(det)
	s.log.Printf("Capture session started in %s mode at %d FPS", mode, s.config.Camera.FPS())
	return nil
}

// Stop halts the run loop and releases the camera and detector.
// No tick runs after Stop returns.
func (s *Session) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.running() {
		if s.started {
			// A failed start holds nothing open but still leaves ERROR behind
			s.started = false
			s.pipeline.Reset(s.Mode())
			s.publish()
		}
		return
	}

	s.stopLoop()
	s.closeDetector()

	if err := s.config.Camera.Close(); err != nil {
		s.log.Printf("Error closing camera: %v", err)
	}

	s.mu.Lock()
	if s.hasLatest {
		s.latest.Close()
		s.hasLatest = false
	}
	s.mu.Unlock()

	s.started = false
	s.pipeline.Reset(s.Mode())
	s.publish()
	s.log.Println("Capture session stopped")
}

// SetMode switches the capture mode. A running session tears down its detector,
// discards all pipeline state and resumes searching with a detector for the new mode.
// The camera stays open across the switch. A session whose start or previous switch
// failed runs the whole start sequence again for the new mode. A session that was
// never started only records the mode.
func (s *Session) SetMode(mode scan.Mode) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	wasRunning := s.running()
	if mode == s.Mode() && (wasRunning || !s.started) {
		return nil
	}

	if wasRunning {
		s.stopLoop()
		s.closeDetector()
	}

	s.mu.Lock()
	s.mode = mode
	s.lastCapture = s.config.Now()
	s.mu.Unlock()

	s.pipeline.Reset(mode)
	s.publish()
	s.log.Printf("Capture mode set to %s", mode)

	if !s.started {
		return nil
	}
	if !wasRunning {
		// The camera was released when the last attempt failed
		return s.start(mode)
	}

	det, err := s.config.Detectors(DetectorConfig(mode))
	if err != nil {
		err = fmt.Errorf("create %s detector: %w", mode, err)
		if cerr := s.config.Camera.Close(); cerr != nil {
			s.log.Printf("Error closing camera: %v", cerr)
		}
		s.pipeline.Fail(err)
		s.publish()
		return err
	}

	s.ready(det)
	return nil
}

// Trigger requests a manual capture. It is honoured only while SEARCHING or LOCKING.
func (s *Session) Trigger(ctx context.Context) (scan.Result, error) {
	s.mu.RLock()
	stopCh := s.stopCh
	s.mu.RUnlock()
	if stopCh == nil {
		return scan.Result{}, ErrNotRunning
	}

	req := triggerRequest{reply: make(chan triggerReply, 1)}
	select {
	case s.triggerCh <- req:
	case <-stopCh:
		return scan.Result{}, ErrNotRunning
	case <-ctx.Done():
		return scan.Result{}, ctx.Err()
	}

	select {
	case reply := <-req.reply:
		return reply.result, reply.err
	case <-ctx.Done():
		return scan.Result{}, ctx.Err()
	}
}

// Snapshot returns the current status, progress and mode.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Mode returns the active capture mode.
func (s *Session) Mode() scan.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Subscribe returns a channel receiving every snapshot change, starting with the
// current one. Slow subscribers only see the latest snapshot. Call cancel to unsubscribe.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- s.snapshot
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// Preview returns the most recent camera frame as JPEG.
func (s *Session) Preview() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasLatest {
		return nil, capture.ErrNoFrame
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, s.latest)
	if err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	defer buf.Close()

	return bytes.Clone(buf.GetBytes()), nil
}

func (s *Session) running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopCh != nil
}

// ready hands det to the pipeline and starts the run loop. Callers hold lifecycle.
func (s *Session) ready(det detector.Detector) {
	s.det = det
	s.pipeline.MarkReady(det)

	stopCh := make(chan struct{})
	s.mu.Lock()
	s.stopCh = stopCh
	s.mu.Unlock()
	s.publish()

	s.wg.Add(1)
	go s.runPipeline(stopCh)
}

// stopLoop signals the run loop and waits for it to exit. Callers hold lifecycle.
func (s *Session) stopLoop() {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	s.wg.Wait()
}

func (s *Session) closeDetector() {
	if s.det == nil {
		return
	}
	if err := s.det.Close(); err != nil {
		s.log.Printf("Error closing detector: %v", err)
	}
	s.det = nil
}

func (s *Session) handleCapture(res scan.Result) {
	s.mu.Lock()
	s.lastCapture = s.config.Now()
	s.mu.Unlock()

	s.log.Printf("Captured %s %dx%d (manual=%v)", res.Mode, res.Width, res.Height, res.Manual)
	if s.config.OnCapture != nil {
		s.config.OnCapture(res)
	}
}

// publish refreshes the snapshot from the pipeline and notifies subscribers when it changed.
// Only the goroutine currently owning the pipeline may call it.
func (s *Session) publish() {
	now := s.config.Now()
	status := s.pipeline.Status()
	target, tracking := s.pipeline.Target()

	s.mu.Lock()
	defer s.mu.Unlock()

	mode := s.pipeline.Mode()
	snap := Snapshot{
		Status:   status,
		Message:  status.Describe(mode),
		Progress: s.pipeline.Progress(),
		Mode:     mode,
		Running:  s.stopCh != nil,
		Target:   target,
		Tracking: tracking,
		ManualFallback: status.Triggerable() &&
			now.Sub(s.lastCapture) >= s.config.FallbackAfter,
	}
	if snap == s.snapshot {
		return
	}
	s.snapshot = snap

	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
