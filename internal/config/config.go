// Package config loads mukha settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds every tunable of the service.
type Config struct {
	Addr string `validate:"required"`

	CameraID     int           `validate:"gte=0"`
	FrameWidth   int           `validate:"gt=0"`
	FrameHeight  int           `validate:"gt=0"`
	TickInterval time.Duration `validate:"gt=0"`

	// WorkingWidth is the width of the copy handed to the detector.
	// Zero keeps the native frame size.
	WorkingWidth int `validate:"gte=0"`

	ModelDir         string   `validate:"required"`
	LabeledDir       string   `validate:"required"`
	Subjects         []string `validate:"dive,required"`
	ImagesPerSubject int      `validate:"gte=0"`

	MinConfidence  float64 `validate:"gt=0,lte=1"`
	MatchThreshold float64 `validate:"gt=0"`

	MoveThreshold       float64       `validate:"gt=0"`
	MoveCooldown        time.Duration `validate:"gte=0"`
	ResetMovementOnStop bool

	StaticDir string
	Tray      bool

	// HookDir holds turn hooks. Empty disables them.
	HookDir     string
	HookTimeout time.Duration `validate:"gt=0"`

	LogLevel string `validate:"oneof=trace debug info warn warning error"`
	LogDir   string
}

// Default returns the settings the service runs with when nothing is set.
func Default() Config {
	return Config{
		Addr:             "127.0.0.1:8080",
		CameraID:         0,
		FrameWidth:       640,
		FrameHeight:      480,
		TickInterval:     100 * time.Millisecond,
		ModelDir:         "models",
		LabeledDir:       "labeled_images",
		Subjects:         []string{"ankit", "jitendra"},
		ImagesPerSubject: 2,
		MinConfidence:    0.5,
		MatchThreshold:   0.6,
		MoveThreshold:    25,
		MoveCooldown:     800 * time.Millisecond,
		HookTimeout:      2 * time.Second,
		LogLevel:         "info",
	}
}

// Load reads an optional .env file, overlays environment variables on
// Default and validates the result.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg, err := FromLookup(os.LookupEnv)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromLookup builds a Config from a lookup function such as os.LookupEnv.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	p.text("ADDR", &cfg.Addr)
	p.integer("CAMERA_ID", &cfg.CameraID)
	p.integer("FRAME_WIDTH", &cfg.FrameWidth)
	p.integer("FRAME_HEIGHT", &cfg.FrameHeight)
	p.duration("TICK_INTERVAL", &cfg.TickInterval)
	p.integer("WORKING_WIDTH", &cfg.WorkingWidth)
	p.text("MODEL_DIR", &cfg.ModelDir)
	p.text("LABELED_DIR", &cfg.LabeledDir)
	p.list("SUBJECTS", &cfg.Subjects)
	p.integer("IMAGES_PER_SUBJECT", &cfg.ImagesPerSubject)
	p.number("MIN_CONFIDENCE", &cfg.MinConfidence)
	p.number("MATCH_THRESHOLD", &cfg.MatchThreshold)
	p.number("MOVE_THRESHOLD", &cfg.MoveThreshold)
	p.duration("MOVE_COOLDOWN", &cfg.MoveCooldown)
	p.flag("RESET_MOVEMENT_ON_STOP", &cfg.ResetMovementOnStop)
	p.text("STATIC_DIR", &cfg.StaticDir)
	p.flag("TRAY", &cfg.Tray)
	p.text("HOOK_DIR", &cfg.HookDir)
	p.duration("HOOK_TIMEOUT", &cfg.HookTimeout)
	p.text("LOG_LEVEL", &cfg.LogLevel)
	p.text("LOG_DIR", &cfg.LogDir)

	if p.err != nil {
		return Config{}, p.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the struct tags.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// parser records the first conversion error and ignores unset keys.
type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) raw(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v, ok := p.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p *parser) fail(key, v string, err error) {
	p.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
}

func (p *parser) text(key string, dst *string) {
	if v, ok := p.raw(key); ok {
		*dst = v
	}
}

func (p *parser) integer(key string, dst *int) {
	v, ok := p.raw(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return
	}
	*dst = n
}

func (p *parser) number(key string, dst *float64) {
	v, ok := p.raw(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return
	}
	*dst = f
}

func (p *parser) flag(key string, dst *bool) {
	v, ok := p.raw(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return
	}
	*dst = b
}

// duration accepts Go durations ("800ms") or bare milliseconds ("800").
func (p *parser) duration(key string, dst *time.Duration) {
	v, ok := p.raw(key)
	if !ok {
		return
	}
	if ms, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return
	}
	*dst = d
}

func (p *parser) list(key string, dst *[]string) {
	v, ok := p.raw(key)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}
