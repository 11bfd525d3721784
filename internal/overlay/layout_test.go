package overlay

import (
	"testing"

	"github.com/ayusman/mukha/internal/detector"
	"github.com/ayusman/mukha/internal/pipeline"
)

func fullFace() detector.Face {
	lm := detector.Landmarks{}
	return detector.Face{
		Box:       detector.Box{X: 100, Y: 200, Width: 80, Height: 90},
		Score:     0.95,
		Landmarks: &lm,
		Expressions: detector.Expressions{
			{Label: detector.Neutral, Confidence: 0.1},
			{Label: detector.Happy, Confidence: 0.87},
		},
		AgeGender: &detector.AgeGender{Age: 30.5, Gender: detector.Male, GenderProbability: 0.923},
		Match:     &detector.Match{Label: "ankit", Distance: 0.41},
	}
}

func TestLayout_StacksDistinctOffsets(t *testing.T) {
	face := fullFace()
	steps := []pipeline.Option{pipeline.FaceDetection, pipeline.Landmarks, pipeline.Expressions, pipeline.Age}

	var opts pipeline.Options
	prev := 0
	for _, opt := range steps {
		opts, _ = opts.With(opt, true)
		lines := Layout(face, 0, opts)

		if len(lines) <= prev {
			t.Fatalf("enabling %s: %d lines, want more than %d", opt, len(lines), prev)
		}
		prev = len(lines)

		seen := make(map[int]bool)
		for i, l := range lines {
			if seen[l.Origin.Y] {
				t.Errorf("enabling %s: line %d shares y=%d", opt, i, l.Origin.Y)
			}
			seen[l.Origin.Y] = true
			if i > 0 && l.Origin.Y != lines[i-1].Origin.Y-LineSpacing {
				t.Errorf("line %d at y=%d, want %d", i, l.Origin.Y, lines[i-1].Origin.Y-LineSpacing)
			}
			if i > 0 && l.Layer <= lines[i-1].Layer {
				t.Errorf("layer order broken at line %d", i)
			}
		}
	}
}

func TestLayout_Texts(t *testing.T) {
	face := fullFace()
	all := pipeline.Options{FaceDetection: true, Landmarks: true, Expressions: true, Age: true, Gender: true}

	lines := Layout(face, 0, all)

	want := []struct {
		layer Layer
		text  string
	}{
		{LayerBox, "ankit"},
		{LayerLandmarks, "Landmarks Detected"},
		{LayerExpression, "Happy (87%)"},
		{LayerDemographics, "Age: 31 Gender: male (92%)"},
	}
	if len(lines) != len(want) {
		t.Fatalf("Layout() = %d lines, want %d", len(lines), len(want))
	}
	for i, w := range want {
		if lines[i].Layer != w.layer || lines[i].Text != w.text {
			t.Errorf("line %d = {%v %q}, want {%v %q}", i, lines[i].Layer, lines[i].Text, w.layer, w.text)
		}
	}
	if lines[0].Origin.Y != 200-TextMargin || lines[0].Origin.X != 100 {
		t.Errorf("first line origin = %v, want (100,%d)", lines[0].Origin, 200-TextMargin)
	}
	if lines[0].Color != BoxColor || lines[3].Color != DemographicColor {
		t.Error("layer colors not applied")
	}
}

func TestLayout_SkipsAbsentParts(t *testing.T) {
	face := detector.Face{Box: detector.Box{X: 10, Y: 50}}
	all := pipeline.Options{FaceDetection: true, Landmarks: true, Expressions: true, Age: true, Gender: true}

	lines := Layout(face, 2, all)

	if len(lines) != 1 {
		t.Fatalf("Layout() = %+v, want only the box label", lines)
	}
	if lines[0].Text != "Face 3" {
		t.Errorf("label = %q, want Face 3", lines[0].Text)
	}
}

func TestLayout_NothingEnabled(t *testing.T) {
	if lines := Layout(fullFace(), 0, pipeline.Options{}); len(lines) != 0 {
		t.Errorf("Layout() with all options off = %+v", lines)
	}
}

func TestDemographicText(t *testing.T) {
	ag := &detector.AgeGender{Age: 24.5, Gender: detector.Female, GenderProbability: 0.68}

	tests := []struct {
		name string
		ag   *detector.AgeGender
		opts pipeline.Options
		want string
	}{
		{"age only", ag, pipeline.Options{Age: true}, "Age: 25"},
		{"gender only", ag, pipeline.Options{Gender: true}, "Gender: female (68%)"},
		{"both", ag, pipeline.Options{Age: true, Gender: true}, "Age: 25 Gender: female (68%)"},
		{"neither requested", ag, pipeline.Options{}, ""},
		{"not computed", nil, pipeline.Options{Age: true, Gender: true}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DemographicText(tt.ag, tt.opts); got != tt.want {
				t.Errorf("DemographicText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRoundAge(t *testing.T) {
	tests := []struct {
		age  float64
		want int
	}{
		{30.4, 30},
		{30.5, 31},
		{29.5, 30},
		{0.49, 0},
	}
	for _, tt := range tests {
		if got := RoundAge(tt.age); got != tt.want {
			t.Errorf("RoundAge(%v) = %d, want %d", tt.age, got, tt.want)
		}
	}
}
