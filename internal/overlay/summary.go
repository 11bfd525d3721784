package overlay

import (
	"fmt"
	"math"

	"github.com/ayusman/mukha/internal/detector"
	"github.com/ayusman/mukha/internal/pipeline"
)

// Summary is one entry of the detection panel.
type Summary struct {
	Label         string              `json:"label"`
	Distance      *float64            `json:"distance,omitempty"`
	Age           *int                `json:"age,omitempty"`
	Gender        detector.Gender     `json:"gender,omitempty"`
	GenderPercent *int                `json:"gender_percent,omitempty"`
	Expression    detector.Expression `json:"expression,omitempty"`
}

// Summarize builds the panel list for one tick. Identity labels are shown
// only while face detection is on; otherwise faces are "Person N".
func Summarize(faces []detector.Face, opts pipeline.Options) []Summary {
	out := make([]Summary, 0, len(faces))
	for i, face := range faces {
		s := Summary{Label: fmt.Sprintf("Person %d", i+1)}
		if opts.FaceDetection && face.Match != nil {
			s.Label = face.Match.Label
			if dist := face.Match.Distance; !math.IsInf(dist, 0) {
				s.Distance = &dist
			}
		}
		if ag := face.AgeGender; ag != nil {
			if opts.Age {
				age := RoundAge(ag.Age)
				s.Age = &age
			}
			if opts.Gender && ag.Gender != "" {
				pct := Percent(ag.GenderProbability)
				s.Gender = ag.Gender
				s.GenderPercent = &pct
			}
		}
		if opts.Expressions {
			if dom, ok := face.Expressions.Dominant(); ok {
				s.Expression = dom.Label
			}
		}
		out = append(out, s)
	}
	return out
}
