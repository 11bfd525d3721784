package capture

import (
	"errors"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// ErrNoFrames is returned by MockCamera when playback is exhausted.
var ErrNoFrames = errors.New("no more frames")

// MockCamera replays a fixed sequence of frames.
type MockCamera struct {
	mu      sync.Mutex
	frames  []*gocv.Mat
	index   int
	loop    bool
	running bool
	openErr error
	opens   int
	fps     int
	size    image.Point
}

// NewMockCamera plays frames in order, starting over at the end when loop
// is set. Frames are cloned on read; the caller keeps ownership of frames.
func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	size := image.Pt(DefaultWidth, DefaultHeight)
	if len(frames) > 0 && frames[0] != nil && !frames[0].Empty() {
		size = image.Pt(frames[0].Cols(), frames[0].Rows())
	}
	return &MockCamera{
		frames: frames,
		loop:   loop,
		fps:    DefaultFPS,
		size:   size,
	}
}

// FailOpen makes every following Open return err. Pass nil to clear it.
func (c *MockCamera) FailOpen(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openErr = err
}

// Open starts playback from the first frame.
func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return c.openErr
	}
	c.running = true
	c.index = 0
	c.opens++
	return nil
}

// Close stops playback.
func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

// ReadFrame returns a clone of the next frame in the sequence.
func (c *MockCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}
	if len(c.frames) == 0 {
		return nil, ErrNoFrames
	}
	if c.index >= len(c.frames) {
		if !c.loop {
			return nil, ErrNoFrames
		}
		c.index = 0
	}

	frame := c.frames[c.index].Clone()
	c.index++
	return &frame, nil
}

// SetFPS sets the reported frame rate. Values <= 0 are ignored.
func (c *MockCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fps = fps
}

// FPS returns the current frames per second setting.
func (c *MockCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

// IsOpen returns whether the mock camera is open.
func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Size returns the size of the first frame, or 640x480 without frames.
func (c *MockCamera) Size() image.Point {
	return c.size
}

// Opens reports how many times Open succeeded.
func (c *MockCamera) Opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}
