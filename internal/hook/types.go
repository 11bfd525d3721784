// Package hook runs external executables whenever a head turn is counted.
//
// Each hook lives in its own directory under the hook root with a hook.json
// manifest. On a turn the executable receives an Event as JSON on stdin and
// answers with a Response on stdout.
package hook

import (
	"time"

	"github.com/ayusman/mukha/internal/movement"
)

// Manifest describes a hook.
type Manifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Executable  string `json:"executable"`
	// Directions filters the turns the hook receives. Empty means all.
	Directions []string `json:"directions,omitempty"`
}

// Event is written to the hook's stdin.
type Event struct {
	Direction string            `json:"direction"`
	Counters  movement.Counters `json:"counters"`
	At        time.Time         `json:"at"`
}

// Response is read from the hook's stdout.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Hook is a discovered hook with its manifest and location.
type Hook struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Wants reports whether the hook subscribes to d.
func (h *Hook) Wants(d movement.Direction) bool {
	if len(h.Manifest.Directions) == 0 {
		return true
	}
	for _, name := range h.Manifest.Directions {
		if name == d.String() {
			return true
		}
	}
	return false
}
