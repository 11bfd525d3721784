package detector

import (
	"context"
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of Backend.
// It allows tests to control the detection and load results.
type MockDetector struct {
	mu         sync.Mutex
	faces      []Face
	err        error
	detectFunc func(frame *gocv.Mat, req Request) ([]Face, error)
	loadErrs   map[Model]error
	loaded     map[Model]bool
	requests   []Request
	closed     bool
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{
		loadErrs: make(map[Model]error),
		loaded:   make(map[Model]bool),
	}
}

// SetFaces sets the faces that will be returned by Detect.
func (m *MockDetector) SetFaces(faces []Face) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faces = faces
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetDetectFunc overrides Detect entirely.
func (m *MockDetector) SetDetectFunc(f func(frame *gocv.Mat, req Request) ([]Face, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detectFunc = f
}

// SetLoadError makes Load(model) fail with err.
func (m *MockDetector) SetLoadError(model Model, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErrs[model] = err
}

// Load records the model as loaded unless a load error was configured.
func (m *MockDetector) Load(ctx context.Context, model Model) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadErrs[model]; err != nil {
		return err
	}
	m.loaded[model] = true
	return nil
}

// Loaded reports whether Load(model) succeeded.
func (m *MockDetector) Loaded(model Model) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded[model]
}

// Detect returns the pre-configured faces or error, dropping the parts
// req did not ask for.
func (m *MockDetector) Detect(frame *gocv.Mat, req Request) ([]Face, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	f, faces, err := m.detectFunc, m.faces, m.err
	m.mu.Unlock()

	if f != nil {
		return f(frame, req)
	}
	if err != nil {
		return nil, err
	}

	out := make([]Face, len(faces))
	for i, face := range faces {
		if !req.Landmarks {
			face.Landmarks = nil
		}
		if !req.Descriptors {
			face.Descriptor = nil
		}
		if !req.Expressions {
			face.Expressions = nil
		}
		if !req.AgeGender {
			face.AgeGender = nil
		}
		out[i] = face
	}
	return out, nil
}

// Requests returns every Request passed to Detect so far.
func (m *MockDetector) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Close marks the detector closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
