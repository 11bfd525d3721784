// Package main is a turn hook that presses the arrow key matching each head
// turn, so slides or a media player can be driven hands-free. It targets
// macOS and sends key codes via AppleScript.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
)

// Event is the turn written to stdin.
type Event struct {
	Direction string `json:"direction"`
}

// Response is written to stdout.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// keyCodes maps directions to macOS virtual key codes.
var keyCodes = map[string]int{
	"left":  123,
	"right": 124,
	"down":  125,
	"up":    126,
}

func main() {
	var ev Event
	if err := json.NewDecoder(os.Stdin).Decode(&ev); err != nil {
		writeResponse(fmt.Errorf("decode event: %w", err))
		return
	}
	writeResponse(press(ev.Direction))
}

func press(direction string) error {
	code, ok := keyCodes[direction]
	if !ok {
		return fmt.Errorf("unknown direction: %q", direction)
	}
	return runAppleScript(keyScript(code))
}

func keyScript(code int) string {
	return fmt.Sprintf(`tell application "System Events" to key code %d`, code)
}

func writeResponse(err error) {
	resp := Response{Success: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}

// runAppleScript executes an AppleScript command and returns any error.
func runAppleScript(script string) error {
	cmd := exec.Command("osascript", "-e", script)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}
