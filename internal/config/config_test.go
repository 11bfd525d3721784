package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromLookup_Defaults(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(nil))
	if err != nil {
		t.Fatalf("FromLookup() error = %v", err)
	}

	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("FromLookup(empty) = %+v, want defaults %+v", cfg, Default())
	}
	if cfg.TickInterval != 100*time.Millisecond {
		t.Errorf("TickInterval = %v, want 100ms", cfg.TickInterval)
	}
	if cfg.FrameWidth != 640 || cfg.FrameHeight != 480 {
		t.Errorf("frame = %dx%d, want 640x480", cfg.FrameWidth, cfg.FrameHeight)
	}
}

func TestFromLookup_Overrides(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"ADDR":                   ":9090",
		"CAMERA_ID":              "2",
		"TICK_INTERVAL":          "250",
		"MOVE_COOLDOWN":          "1.5s",
		"SUBJECTS":               " alice, bob ,, carol ",
		"MATCH_THRESHOLD":        "0.45",
		"RESET_MOVEMENT_ON_STOP": "true",
		"LOG_LEVEL":              "debug",
	}))
	if err != nil {
		t.Fatalf("FromLookup() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"addr", cfg.Addr, ":9090"},
		{"camera", cfg.CameraID, 2},
		{"tick in millis", cfg.TickInterval, 250 * time.Millisecond},
		{"cooldown as duration", cfg.MoveCooldown, 1500 * time.Millisecond},
		{"subjects trimmed", cfg.Subjects, []string{"alice", "bob", "carol"}},
		{"match threshold", cfg.MatchThreshold, 0.45},
		{"reset policy", cfg.ResetMovementOnStop, true},
		{"log level", cfg.LogLevel, "debug"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !reflect.DeepEqual(tt.got, tt.want) {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestFromLookup_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"non numeric camera", map[string]string{"CAMERA_ID": "front"}},
		{"negative camera", map[string]string{"CAMERA_ID": "-1"}},
		{"bad duration", map[string]string{"TICK_INTERVAL": "soon"}},
		{"zero tick", map[string]string{"TICK_INTERVAL": "0"}},
		{"confidence above one", map[string]string{"MIN_CONFIDENCE": "1.5"}},
		{"bad bool", map[string]string{"TRAY": "sometimes"}},
		{"unknown log level", map[string]string{"LOG_LEVEL": "loud"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromLookup(lookupFrom(tt.env)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte("MUKHA_TEST_UNUSED=1\nIMAGES_PER_SUBJECT=3\n"), 0644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("IMAGES_PER_SUBJECT", "")
	os.Unsetenv("IMAGES_PER_SUBJECT")
	t.Cleanup(func() { os.Unsetenv("MUKHA_TEST_UNUSED") })

	cfg, err := Load(envPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ImagesPerSubject != 3 {
		t.Errorf("ImagesPerSubject = %d, want 3", cfg.ImagesPerSubject)
	}
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("Load() with missing file error = %v", err)
	}
}
