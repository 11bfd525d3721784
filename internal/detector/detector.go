package detector

import (
	"context"
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// ErrModelNotLoaded is returned when a request needs a model that has not
// been loaded.
var ErrModelNotLoaded = errors.New("model not loaded")

// Request selects the optional per-face work a Detect call performs.
// Localization always runs.
type Request struct {
	Landmarks   bool
	Descriptors bool
	Expressions bool
	AgeGender   bool
}

// Detector finds faces in a BGR frame.
type Detector interface {
	// Detect returns every face found, in frame coordinates. An empty
	// slice means no faces.
	Detect(frame *gocv.Mat, req Request) ([]Face, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Model names one loadable network.
type Model int

const (
	// ModelLocalizer finds face boxes and their 5-point landmarks.
	ModelLocalizer Model = iota
	ModelRecognizer
	ModelExpression
	ModelAgeGender
)

// AllModels lists every model a full session loads.
var AllModels = []Model{ModelLocalizer, ModelRecognizer, ModelExpression, ModelAgeGender}

func (m Model) String() string {
	switch m {
	case ModelLocalizer:
		return "localizer"
	case ModelRecognizer:
		return "recognizer"
	case ModelExpression:
		return "expression"
	case ModelAgeGender:
		return "age-gender"
	}
	return fmt.Sprintf("model(%d)", int(m))
}

// Loader loads models on demand. Loading an already loaded model is a no-op.
type Loader interface {
	Load(ctx context.Context, m Model) error
}

// Backend is a Detector whose models are loaded explicitly.
type Backend interface {
	Detector
	Loader
}

// Config holds configuration options for the OpenCV backend.
type Config struct {
	// ModelDir holds the model files named by the constants below.
	ModelDir string

	// MinConfidence is the localization score threshold (0.0-1.0).
	MinConfidence float64

	// NMSThreshold is the box overlap above which duplicates are dropped.
	NMSThreshold float64

	// TopK bounds the candidates kept before NMS.
	TopK int
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{
		ModelDir:      "models",
		MinConfidence: 0.5,
		NMSThreshold:  0.3,
		TopK:          5000,
	}
}

// DetectSingle returns the highest scoring face, mirroring a single-face
// query. ok is false when no face was found.
func DetectSingle(d Detector, frame *gocv.Mat, req Request) (face Face, ok bool, err error) {
	faces, err := d.Detect(frame, req)
	if err != nil {
		return Face{}, false, err
	}
	face, ok = Best(faces)
	return face, ok, nil
}
