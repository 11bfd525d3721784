package overlay

import (
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/ayusman/mukha/internal/detector"
	"github.com/ayusman/mukha/internal/pipeline"
)

// Renderer draws annotation layers with OpenCV's Hershey fonts.
type Renderer struct {
	Font      gocv.HersheyFont
	FontScale float64
	Thickness int
}

// NewRenderer returns a Renderer with the default font settings.
func NewRenderer() *Renderer {
	return &Renderer{
		Font:      gocv.FontHersheySimplex,
		FontScale: 0.5,
		Thickness: 1,
	}
}

// Render copies frame onto canvas and draws every face's layers on top.
func (r *Renderer) Render(canvas *gocv.Mat, frame gocv.Mat, faces []detector.Face, opts pipeline.Options) {
	frame.CopyTo(canvas)

	for i, face := range faces {
		if opts.FaceDetection {
			gocv.Rectangle(canvas, face.Box.Rect(), BoxColor, 2)
		}
		if opts.Landmarks && face.Landmarks != nil {
			for _, p := range face.Landmarks {
				pt := image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
				gocv.Circle(canvas, pt, 2, LandmarkColor, -1)
			}
		}
		for _, line := range Layout(face, i, opts) {
			gocv.PutText(canvas, line.Text, line.Origin, r.Font, r.FontScale, line.Color, r.Thickness)
		}
	}
}

// Clear blanks the canvas.
func Clear(canvas *gocv.Mat) {
	if canvas == nil || canvas.Empty() {
		return
	}
	canvas.SetTo(gocv.NewScalar(0, 0, 0, 0))
}
