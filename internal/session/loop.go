package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ayusman/mukha/internal/movement"
	"github.com/ayusman/mukha/internal/overlay"
	"github.com/ayusman/mukha/internal/pipeline"
)

// run is the polling loop. A tick is skipped while the previous tick's
// work is still running. On cancellation it waits for that work.
func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	var work sync.WaitGroup
	defer work.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.busy.CompareAndSwap(false, true) {
				if n := s.skipped.Add(1); n%50 == 1 {
					s.log.WithField("skipped", n).Debug("Tick skipped, previous tick still running")
				}
				continue
			}
			work.Add(1)
			go func() {
				defer work.Done()
				defer s.busy.Store(false)
				s.tick(ctx)
			}()
		}
	}
}

// tick reads one frame and runs the movement and render passes on it in
// parallel. A failure in one pass never affects the other.
func (s *Session) tick(ctx context.Context) {
	frame, err := s.config.Camera.ReadFrame()
	if err != nil {
		s.logTickError("read", err)
		return
	}
	defer frame.Close()

	opts := s.Options()

	var wg sync.WaitGroup
	wg.Add(2)
	go s.pass(&wg, "movement", func() { s.trackMovement(ctx, frame) })
	go s.pass(&wg, "render", func() { s.render(ctx, frame, opts) })
	wg.Wait()

	s.mu.Lock()
	s.tickedAt = time.Now()
	s.mu.Unlock()
	s.notify()
}

func (s *Session) pass(wg *sync.WaitGroup, name string, f func()) {
	defer wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logTickError(name, fmt.Errorf("panic: %v", r))
		}
	}()
	f()
}

func (s *Session) trackMovement(ctx context.Context, frame *gocv.Mat) {
	face, ok, err := s.adapter.Locate(ctx, frame)
	if err != nil {
		s.logTickError("movement", err)
		return
	}
	if !ok {
		return
	}
	s.tracker.Observe(movement.Point{X: face.Box.X, Y: face.Box.Y})
}

func (s *Session) render(ctx context.Context, frame *gocv.Mat, opts pipeline.Options) {
	faces, err := s.adapter.Run(ctx, frame, opts)
	if err != nil {
		s.logTickError("render", err)
		faces = nil
	}

	s.canvasMu.Lock()
	if !s.canvasClosed {
		s.renderer.Render(&s.canvas, *frame, faces, opts)
	}
	s.canvasMu.Unlock()

	summaries := overlay.Summarize(faces, opts)
	s.mu.Lock()
	s.summaries = summaries
	s.mu.Unlock()
}

// logTickError logs at most one per-tick error per second.
func (s *Session) logTickError(pass string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	if !s.errLimit.Allow() {
		s.suppressed.Add(1)
		return
	}
	s.log.WithFields(logrus.Fields{
		"pass":       pass,
		"suppressed": s.suppressed.Swap(0),
	}).WithError(err).Warn("Detection error, tick treated as empty")
}
