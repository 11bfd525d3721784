// Package detector locates faces and estimates their attributes with
// pre-trained OpenCV models.
package detector

import (
	"image"
	"math"
)

// Point is a 2D image coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is an axis-aligned face box in image coordinates.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect rounds the box to integer pixel bounds.
func (b Box) Rect() image.Rectangle {
	x0 := int(math.Round(b.X))
	y0 := int(math.Round(b.Y))
	return image.Rect(x0, y0, x0+int(math.Round(b.Width)), y0+int(math.Round(b.Height)))
}

// Landmark indices in the order the localizer reports them.
const (
	RightEye = iota
	LeftEye
	NoseTip
	RightMouth
	LeftMouth
	NumLandmarks
)

// Landmarks are five facial key points.
type Landmarks [NumLandmarks]Point

// Descriptor is an L2-normalized face embedding.
type Descriptor []float32

// Expression is a facial expression label.
type Expression string

const (
	Neutral   Expression = "neutral"
	Happy     Expression = "happy"
	Sad       Expression = "sad"
	Angry     Expression = "angry"
	Fearful   Expression = "fearful"
	Disgusted Expression = "disgusted"
	Surprised Expression = "surprised"
)

// ExpressionOrder is the fixed label order. Dominant-expression ties go to
// the earlier label.
var ExpressionOrder = []Expression{Neutral, Happy, Sad, Angry, Fearful, Disgusted, Surprised}

// ExpressionScore is one label with its confidence in [0,1].
type ExpressionScore struct {
	Label      Expression `json:"label"`
	Confidence float64    `json:"confidence"`
}

// Expressions is kept in ExpressionOrder.
type Expressions []ExpressionScore

// Dominant returns the highest-confidence entry. ok is false when empty.
func (e Expressions) Dominant() (best ExpressionScore, ok bool) {
	for i, s := range e {
		if i == 0 || s.Confidence > best.Confidence {
			best = s
		}
	}
	return best, len(e) > 0
}

// Gender is the estimated gender label.
type Gender string

const (
	Male   Gender = "male"
	Female Gender = "female"
)

// AgeGender holds the joint age and gender estimate.
type AgeGender struct {
	Age               float64 `json:"age"`
	Gender            Gender  `json:"gender"`
	GenderProbability float64 `json:"gender_probability"`
}

// Match is the result of comparing a descriptor against the reference
// catalog.
type Match struct {
	Label    string  `json:"label"`
	Distance float64 `json:"distance"`
}

// Face is everything known about one detected face in a single frame.
// Optional parts are nil when they were not requested.
type Face struct {
	Box         Box         `json:"box"`
	Score       float64     `json:"score"`
	Landmarks   *Landmarks  `json:"landmarks,omitempty"`
	Descriptor  Descriptor  `json:"-"`
	Expressions Expressions `json:"expressions,omitempty"`
	AgeGender   *AgeGender  `json:"age_gender,omitempty"`
	Match       *Match      `json:"match,omitempty"`
}

// Scale returns a copy with the box and landmarks multiplied by sx, sy.
func (f Face) Scale(sx, sy float64) Face {
	f.Box = Box{
		X:      f.Box.X * sx,
		Y:      f.Box.Y * sy,
		Width:  f.Box.Width * sx,
		Height: f.Box.Height * sy,
	}
	if f.Landmarks != nil {
		lm := *f.Landmarks
		for i := range lm {
			lm[i] = Point{X: lm[i].X * sx, Y: lm[i].Y * sy}
		}
		f.Landmarks = &lm
	}
	return f
}

// Best returns the face with the highest localization score.
func Best(faces []Face) (Face, bool) {
	if len(faces) == 0 {
		return Face{}, false
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Score > best.Score {
			best = f
		}
	}
	return best, true
}
