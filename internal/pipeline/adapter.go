package pipeline

import (
	"context"
	"image"
	"sync/atomic"

	"gocv.io/x/gocv"

	"github.com/ayusman/mukha/internal/catalog"
	"github.com/ayusman/mukha/internal/detector"
)

// Adapter runs the detector on a frame and returns faces in the frame's own
// coordinates, annotated with catalog matches.
type Adapter struct {
	detector     detector.Detector
	workingWidth int
	matcher      atomic.Pointer[catalog.Matcher]
}

// NewAdapter creates an Adapter. Frames wider than workingWidth are
// downscaled before detection; 0 keeps the native size.
func NewAdapter(d detector.Detector, workingWidth int) *Adapter {
	return &Adapter{detector: d, workingWidth: workingWidth}
}

// SetMatcher installs the reference catalog. It may be called while Run is
// in progress.
func (a *Adapter) SetMatcher(m *catalog.Matcher) {
	a.matcher.Store(m)
}

// Matcher returns the installed catalog matcher, or nil.
func (a *Adapter) Matcher() *catalog.Matcher {
	return a.matcher.Load()
}

// Run detects every face with the features opts asks for. Descriptors are
// matched against the catalog and then dropped from the result.
func (a *Adapter) Run(ctx context.Context, frame *gocv.Mat, opts Options) ([]detector.Face, error) {
	m := a.matcher.Load()
	faces, err := a.detect(ctx, frame, RequestFor(opts, m.Len() > 0))
	if err != nil {
		return nil, err
	}

	for i := range faces {
		if faces[i].Descriptor == nil {
			continue
		}
		match := m.FindBestMatch(faces[i].Descriptor)
		faces[i].Match = &match
		faces[i].Descriptor = nil
	}
	return faces, nil
}

// Locate returns the single best face with its landmarks, for movement
// tracking.
func (a *Adapter) Locate(ctx context.Context, frame *gocv.Mat) (detector.Face, bool, error) {
	faces, err := a.detect(ctx, frame, detector.Request{Landmarks: true})
	if err != nil {
		return detector.Face{}, false, err
	}
	face, ok := detector.Best(faces)
	return face, ok, nil
}

func (a *Adapter) detect(ctx context.Context, frame *gocv.Mat, req detector.Request) ([]detector.Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	display := image.Pt(frame.Cols(), frame.Rows())
	work := workingSize(display, a.workingWidth)
	if work == display {
		return a.detector.Detect(frame, req)
	}

	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(*frame, &small, work, 0, 0, gocv.InterpolationArea)

	faces, err := a.detector.Detect(&small, req)
	if err != nil {
		return nil, err
	}
	return Rescale(faces, work, display), nil
}

// workingSize keeps the aspect ratio and never upscales.
func workingSize(display image.Point, width int) image.Point {
	if width <= 0 || display.X <= width || display.X == 0 {
		return display
	}
	h := display.Y * width / display.X
	if h < 1 {
		h = 1
	}
	return image.Pt(width, h)
}

// Rescale maps faces found at size from into size to.
func Rescale(faces []detector.Face, from, to image.Point) []detector.Face {
	if from == to || from.X == 0 || from.Y == 0 {
		return faces
	}
	sx := float64(to.X) / float64(from.X)
	sy := float64(to.Y) / float64(from.Y)
	out := make([]detector.Face, len(faces))
	for i, f := range faces {
		out[i] = f.Scale(sx, sy)
	}
	return out
}
