package app

import (
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/steadyshot/internal/scan"
)

// runPipeline is the session loop. It owns the pipeline until stopCh is closed.
//
// Loop logic:
// 1. On each tick read the current frame and hand it to the pipeline
// 2. Keep a copy of the frame for the live preview
// 3. Serve manual trigger requests between ticks so they never overlap one
// 4. Publish the resulting snapshot to subscribers
func (s *Session) runPipeline(stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case req := <-s.triggerCh:
			res, err := s.trigger()
			req.reply <- triggerReply{result: res, err: err}
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Session) tick() {
	frame, err := s.config.Camera.ReadFrame()
	if err != nil {
		s.log.Printf("Error reading frame: %v", err)
		s.publish()
		return
	}
	defer frame.Close()

	s.pipeline.Tick(frame, s.nowMs())
	s.keepPreview(frame)
	s.publish()
}

func (s *Session) trigger() (scan.Result, error) {
	if !s.pipeline.Status().Triggerable() {
		return scan.Result{}, ErrTriggerIgnored
	}

	frame, err := s.config.Camera.ReadFrame()
	if err != nil {
		return scan.Result{}, err
	}
	defer frame.Close()

	res, ok := s.pipeline.Trigger(frame, s.nowMs())
	s.publish()
	if !ok {
		if s.pipeline.Status() == scan.StatusCaptured {
			return scan.Result{}, ErrCaptureFailed
		}
		return scan.Result{}, ErrTriggerIgnored
	}
	return res, nil
}

// keepPreview replaces the stored preview frame with a copy of frame.
func (s *Session) keepPreview(frame *gocv.Mat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasLatest {
		s.latest.Close()
	}
	s.latest = frame.Clone()
	s.hasLatest = true
}

func (s *Session) nowMs() float64 {
	return float64(s.config.Now().UnixNano()) / float64(time.Millisecond)
}
