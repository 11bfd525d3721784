// Package session owns the lifecycle of one face analysis session: model
// loading, the camera, the polling loop and the user's feature toggles.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ayusman/mukha/internal/capture"
	"github.com/ayusman/mukha/internal/catalog"
	"github.com/ayusman/mukha/internal/detector"
	"github.com/ayusman/mukha/internal/logging"
	"github.com/ayusman/mukha/internal/movement"
	"github.com/ayusman/mukha/internal/overlay"
	"github.com/ayusman/mukha/internal/pipeline"
)

// DefaultTickInterval is the polling period of an active camera.
const DefaultTickInterval = 100 * time.Millisecond

// State is the lifecycle state of a Session.
type State string

const (
	Idle          State = "idle"
	ModelsLoading State = "models_loading"
	ModelsReady   State = "models_ready"
	CameraActive  State = "camera_active"
	CameraStopped State = "camera_stopped"
	LoadFailed    State = "load_failed"
)

// Status messages shown to the user.
const (
	StatusIdle          = "Loading models..."
	StatusLoading       = "Loading face detection models..."
	StatusModelsReady   = `Models loaded! Click "Start Camera" to begin.`
	StatusWaitForModels = "Please wait for models to load..."
	StatusCameraActive  = "Camera active. Detection running..."
	StatusCameraStopped = `Camera stopped. Click "Start Camera" to begin again.`
	statusLoadError     = "Error loading models: "
	statusCameraError   = "Error accessing camera: "
)

var (
	// ErrModelsNotReady is returned by Start before models have loaded.
	ErrModelsNotReady = errors.New("models not ready")
	// ErrNoFrame is returned by CanvasJPEG before anything was rendered.
	ErrNoFrame = errors.New("no frame rendered yet")
	// ErrClosed is returned by operations on a closed Session.
	ErrClosed = errors.New("session closed")
)

// Config wires a Session to its collaborators.
type Config struct {
	Camera   capture.Camera
	Detector detector.Backend
	// References lists the reference images. Nil disables identities.
	References catalog.Source

	TickInterval   time.Duration
	WorkingWidth   int
	MatchThreshold float64
	Movement       movement.Config
	// ResetMovementOnStop clears smoothing history and gesture state on
	// Stop. Counters are never reset.
	ResetMovementOnStop bool

	Logger logrus.FieldLogger
}

// Session is safe for concurrent use.
type Session struct {
	id       string
	config   Config
	log      logrus.FieldLogger
	adapter  *pipeline.Adapter
	renderer *overlay.Renderer
	tracker  *movement.Tracker
	errLimit *rate.Limiter

	// lifecycle serializes Load, Start, Stop and Close.
	lifecycle sync.Mutex
	stopLoop  context.CancelFunc
	loopDone  chan struct{}
	closed    bool

	mu         sync.RWMutex
	state      State
	status     string
	options    pipeline.Options
	summaries  []overlay.Summary
	catalogErr error
	tickedAt   time.Time

	canvasMu     sync.Mutex
	canvas       gocv.Mat
	canvasClosed bool

	busy       atomic.Bool
	skipped    atomic.Uint64
	suppressed atomic.Uint64

	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	subsMu     sync.Mutex
	subs       map[chan Snapshot]struct{}
	subsClosed bool
}

// New creates an idle Session.
func New(config Config) *Session {
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	id := uuid.NewString()
	s := &Session{
		id:       id,
		config:   config,
		log:      logging.OrDiscard(config.Logger).WithField("session", id[:8]),
		adapter:  pipeline.NewAdapter(config.Detector, config.WorkingWidth),
		renderer: overlay.NewRenderer(),
		errLimit: rate.NewLimiter(rate.Every(time.Second), 1),
		state:    Idle,
		status:   StatusIdle,
		options:  pipeline.DefaultOptions(),
		canvas:   gocv.NewMat(),
		subs:     make(map[chan Snapshot]struct{}),
	}

	mv := config.Movement
	onTurn := mv.OnTurn
	mv.OnTurn = func(d movement.Direction, c movement.Counters) {
		s.log.WithFields(logrus.Fields{"direction": d, "total": c.Total()}).Info("Head turn")
		if onTurn != nil {
			onTurn(d, c)
		}
	}
	s.tracker = movement.NewTracker(mv)
	return s
}

// ID returns the session's unique id.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) setState(state State, status string) {
	s.mu.Lock()
	s.state = state
	s.status = status
	s.mu.Unlock()
	s.notify()
}

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	s.notify()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Load loads every model concurrently. On success the reference catalog is
// built in the background; identities are matched once it is ready. A
// failed load is final. Start may be called while Load runs and is
// rejected until it completes.
func (s *Session) Load(ctx context.Context) error {
	s.lifecycle.Lock()
	if s.closed {
		s.lifecycle.Unlock()
		return ErrClosed
	}
	switch s.State() {
	case Idle:
	case LoadFailed:
		s.lifecycle.Unlock()
		return fmt.Errorf("load models: previous attempt failed")
	default:
		s.lifecycle.Unlock()
		return nil
	}
	s.setState(ModelsLoading, StatusLoading)
	s.lifecycle.Unlock()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range detector.AllModels {
		g.Go(func() error {
			if err := s.config.Detector.Load(gctx, m); err != nil {
				return fmt.Errorf("load %v: %w", m, err)
			}
			s.log.WithField("model", m).Debug("Model loaded")
			return nil
		})
	}
	err := g.Wait()

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err != nil {
		s.log.WithError(err).Error("Error loading models")
		s.setState(LoadFailed, statusLoadError+err.Error())
		return err
	}

	s.log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("Models loaded")
	s.setState(ModelsReady, StatusModelsReady)

	if s.config.References != nil {
		bgctx, cancel := context.WithCancel(context.Background())
		s.bgCancel = cancel
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.buildCatalog(bgctx)
		}()
	}
	return nil
}

func (s *Session) buildCatalog(ctx context.Context) {
	ids, err := catalog.Build(ctx, s.config.Detector, s.config.References, s.log)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.WithError(err).Warn("Reference catalog unavailable, identities disabled")
		}
		s.mu.Lock()
		s.catalogErr = err
		s.mu.Unlock()
		s.notify()
		return
	}

	m := catalog.NewMatcher(ids, s.config.MatchThreshold)
	s.adapter.SetMatcher(m)
	s.log.WithField("labels", m.Labels()).Info("Reference catalog ready")
	s.notify()
}

// Start opens the camera and begins the polling loop. Starting an active
// session is a no-op.
func (s *Session) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.closed {
		return ErrClosed
	}
	switch s.State() {
	case ModelsReady, CameraStopped:
	case CameraActive:
		return nil
	case LoadFailed:
		return ErrModelsNotReady
	default:
		s.setStatus(StatusWaitForModels)
		return ErrModelsNotReady
	}

	if err := s.config.Camera.Open(); err != nil {
		s.log.WithError(err).Error("Error accessing camera")
		s.setStatus(statusCameraError + err.Error())
		return fmt.Errorf("open camera: %w", err)
	}
	if fps := int(time.Second / s.config.TickInterval); fps > 0 {
		s.config.Camera.SetFPS(fps)
	}
	s.seedCanvas()

	ctx, cancel := context.WithCancel(context.Background())
	s.stopLoop = cancel
	s.loopDone = make(chan struct{})
	go s.run(ctx, s.loopDone)

	s.log.Info("Camera started")
	s.setState(CameraActive, StatusCameraActive)
	return nil
}

// seedCanvas gives an empty canvas the camera's size in black, so the
// stream has a frame to serve before the first tick renders.
func (s *Session) seedCanvas() {
	size := s.config.Camera.Size()
	if size.X <= 0 || size.Y <= 0 {
		return
	}

	s.canvasMu.Lock()
	defer s.canvasMu.Unlock()
	if s.canvasClosed || !s.canvas.Empty() {
		return
	}
	blank := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), size.Y, size.X, gocv.MatTypeCV8UC3)
	s.canvas.Close()
	s.canvas = blank
}

// Stop halts the loop, waits for in-flight work, releases the camera,
// clears the canvas and the summaries. Counters are kept.
func (s *Session) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.stopLocked()
}

func (s *Session) stopLocked() error {
	if s.State() != CameraActive {
		return nil
	}

	s.stopLoop()
	<-s.loopDone
	s.stopLoop, s.loopDone = nil, nil

	err := s.config.Camera.Close()
	if err != nil {
		s.log.WithError(err).Warn("Error closing camera")
	}

	s.canvasMu.Lock()
	overlay.Clear(&s.canvas)
	s.canvasMu.Unlock()

	if s.config.ResetMovementOnStop {
		s.tracker.Reset()
	}

	s.mu.Lock()
	s.summaries = nil
	s.mu.Unlock()

	s.log.Info("Camera stopped")
	s.setState(CameraStopped, StatusCameraStopped)
	return err
}

// Close stops the camera, cancels a pending catalog build and releases
// the models. It is safe to call more than once.
func (s *Session) Close() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	err := s.stopLocked()
	if s.bgCancel != nil {
		s.bgCancel()
	}
	s.bg.Wait()

	if cerr := s.config.Detector.Close(); cerr != nil && err == nil {
		err = cerr
	}

	s.canvasMu.Lock()
	s.canvas.Close()
	s.canvasClosed = true
	s.canvasMu.Unlock()

	s.subsMu.Lock()
	s.subsClosed = true
	for ch := range s.subs {
		close(ch)
		delete(s.subs, ch)
	}
	s.subsMu.Unlock()
	return err
}

// Options returns the current feature toggles.
func (s *Session) Options() pipeline.Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.options
}

// ToggleOption flips one toggle by name and returns the new toggles.
func (s *Session) ToggleOption(name string) (pipeline.Options, error) {
	opt, err := pipeline.ParseOption(name)
	if err != nil {
		return s.Options(), err
	}

	s.mu.Lock()
	s.options, _ = s.options.Toggle(opt)
	opts := s.options
	s.mu.Unlock()

	v, _ := opts.Get(opt)
	s.log.WithFields(logrus.Fields{"option": opt, "enabled": v}).Info("Option toggled")
	s.notify()
	return opts, nil
}

// SetOption sets one toggle by name and returns the new toggles.
func (s *Session) SetOption(name string, v bool) (pipeline.Options, error) {
	opt, err := pipeline.ParseOption(name)
	if err != nil {
		return s.Options(), err
	}

	s.mu.Lock()
	s.options, _ = s.options.With(opt, v)
	opts := s.options
	s.mu.Unlock()

	s.notify()
	return opts, nil
}

// Counters returns the head-turn counters.
func (s *Session) Counters() movement.Counters {
	return s.tracker.Counters()
}

// CanvasJPEG encodes the composited canvas.
func (s *Session) CanvasJPEG() ([]byte, error) {
	s.canvasMu.Lock()
	defer s.canvasMu.Unlock()

	if s.canvasClosed {
		return nil, ErrClosed
	}
	if s.canvas.Empty() {
		return nil, ErrNoFrame
	}
	buf, err := gocv.IMEncode(".jpg", s.canvas)
	if err != nil {
		return nil, fmt.Errorf("encode canvas: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}
