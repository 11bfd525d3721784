// Package overlay composites detection results onto a canvas frame and
// builds the per-face summary list.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/ayusman/mukha/internal/detector"
	"github.com/ayusman/mukha/internal/pipeline"
)

// Layer colors.
var (
	BoxColor         = color.RGBA{R: 0xFF, G: 0x00, B: 0x00, A: 0xFF}
	LandmarkColor    = color.RGBA{R: 0xFF, G: 0x98, B: 0x00, A: 0xFF}
	ExpressionColor  = color.RGBA{R: 0x4C, G: 0xAF, B: 0x50, A: 0xFF}
	DemographicColor = color.RGBA{R: 0x21, G: 0x96, B: 0xF3, A: 0xFF}
)

const (
	// LineSpacing separates stacked text lines of one face.
	LineSpacing = 20
	// TextMargin is the gap between the box top and the first line.
	TextMargin = 10
)

// Layer identifies one annotation layer. Layers are drawn in this order.
type Layer int

const (
	LayerBox Layer = iota
	LayerLandmarks
	LayerExpression
	LayerDemographics
)

// Line is one text annotation.
type Line struct {
	Layer  Layer
	Text   string
	Origin image.Point
	Color  color.RGBA
}

// Label is the box caption: the matched identity or "Face N" (1-based).
func Label(face detector.Face, index int) string {
	if face.Match != nil {
		return face.Match.Label
	}
	return fmt.Sprintf("Face %d", index+1)
}

// Layout computes the text lines of one face. Each active layer's line sits
// LineSpacing pixels above the previous one, so lines never share a
// baseline.
func Layout(face detector.Face, index int, opts pipeline.Options) []Line {
	var lines []Line
	x := int(math.Round(face.Box.X))
	baseline := int(math.Round(face.Box.Y)) - TextMargin

	add := func(layer Layer, text string, c color.RGBA) {
		y := baseline - len(lines)*LineSpacing
		lines = append(lines, Line{Layer: layer, Text: text, Origin: image.Pt(x, y), Color: c})
	}

	if opts.FaceDetection {
		add(LayerBox, Label(face, index), BoxColor)
	}
	if opts.Landmarks && face.Landmarks != nil {
		add(LayerLandmarks, "Landmarks Detected", LandmarkColor)
	}
	if opts.Expressions {
		if dom, ok := face.Expressions.Dominant(); ok {
			add(LayerExpression, ExpressionText(dom), ExpressionColor)
		}
	}
	if text := DemographicText(face.AgeGender, opts); text != "" {
		add(LayerDemographics, text, DemographicColor)
	}
	return lines
}

// ExpressionText formats "Happy (87%)".
func ExpressionText(s detector.ExpressionScore) string {
	label := string(s.Label)
	if label != "" {
		label = strings.ToUpper(label[:1]) + label[1:]
	}
	return fmt.Sprintf("%s (%d%%)", label, Percent(s.Confidence))
}

// DemographicText formats the requested age and gender fields on one line,
// or returns "" when nothing applies.
func DemographicText(ag *detector.AgeGender, opts pipeline.Options) string {
	if ag == nil {
		return ""
	}
	var parts []string
	if opts.Age {
		parts = append(parts, fmt.Sprintf("Age: %d", RoundAge(ag.Age)))
	}
	if opts.Gender && ag.Gender != "" {
		parts = append(parts, fmt.Sprintf("Gender: %s (%d%%)", ag.Gender, Percent(ag.GenderProbability)))
	}
	return strings.Join(parts, " ")
}

// RoundAge rounds half away from zero.
func RoundAge(age float64) int {
	return int(math.Round(age))
}

// Percent converts a [0,1] confidence to a rounded percentage.
func Percent(p float64) int {
	return int(math.Round(p * 100))
}
