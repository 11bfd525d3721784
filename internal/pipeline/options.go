// Package pipeline turns a frame and the user's feature toggles into
// detection results in display coordinates.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/ayusman/mukha/internal/detector"
)

// ErrUnknownOption is returned for an option name that does not exist.
var ErrUnknownOption = errors.New("unknown option")

// Option names one feature toggle.
type Option string

const (
	FaceDetection Option = "faceDetection"
	Landmarks     Option = "landmarks"
	Expressions   Option = "expressions"
	Age           Option = "age"
	Gender        Option = "gender"
)

// AllOptions lists the toggles in display order.
var AllOptions = []Option{FaceDetection, Landmarks, Expressions, Age, Gender}

// ParseOption validates an option name.
func ParseOption(name string) (Option, error) {
	for _, o := range AllOptions {
		if string(o) == name {
			return o, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOption, name)
}

// Options are five independent feature toggles.
type Options struct {
	FaceDetection bool `json:"faceDetection"`
	Landmarks     bool `json:"landmarks"`
	Expressions   bool `json:"expressions"`
	Age           bool `json:"age"`
	Gender        bool `json:"gender"`
}

// DefaultOptions enables face detection only.
func DefaultOptions() Options {
	return Options{FaceDetection: true}
}

func (o *Options) field(opt Option) (*bool, error) {
	switch opt {
	case FaceDetection:
		return &o.FaceDetection, nil
	case Landmarks:
		return &o.Landmarks, nil
	case Expressions:
		return &o.Expressions, nil
	case Age:
		return &o.Age, nil
	case Gender:
		return &o.Gender, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownOption, opt)
}

// Get returns the value of one toggle.
func (o Options) Get(opt Option) (bool, error) {
	f, err := o.field(opt)
	if err != nil {
		return false, err
	}
	return *f, nil
}

// With returns a copy with one toggle set to v. No other toggle changes.
func (o Options) With(opt Option, v bool) (Options, error) {
	f, err := o.field(opt)
	if err != nil {
		return o, err
	}
	*f = v
	return o, nil
}

// Toggle returns a copy with one toggle flipped. No other toggle changes.
func (o Options) Toggle(opt Option) (Options, error) {
	cur, err := o.Get(opt)
	if err != nil {
		return o, err
	}
	return o.With(opt, !cur)
}

// RequestFor maps toggles to detector work. Landmarks are also requested
// whenever face detection is on; descriptors whenever a catalog exists.
func RequestFor(o Options, haveCatalog bool) detector.Request {
	return detector.Request{
		Landmarks:   o.Landmarks || o.FaceDetection,
		Descriptors: haveCatalog,
		Expressions: o.Expressions,
		AgeGender:   o.Age || o.Gender,
	}
}
