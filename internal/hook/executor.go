package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Executor runs a hook with a timeout.
type Executor struct {
	timeout time.Duration
}

// NewExecutor creates an Executor. A non-positive timeout means 2s.
func NewExecutor(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Executor{timeout: timeout}
}

// Execute pipes ev to the hook's stdin and parses its stdout. A hook that
// answers with success=false is reported as an error.
func (e *Executor) Execute(ctx context.Context, h *Hook, ev Event) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	cmd := exec.CommandContext(ctx, h.Executable)
	cmd.Dir = h.Path
	cmd.WaitDelay = time.Second
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("hook %s timed out after %v", h.Manifest.Name, e.timeout)
	}
	if err != nil {
		if s := stderr.String(); s != "" {
			return nil, fmt.Errorf("hook %s failed: %w, stderr: %s", h.Manifest.Name, err, s)
		}
		return nil, fmt.Errorf("hook %s failed: %w", h.Manifest.Name, err)
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("parse hook %s response: %w, stdout: %s", h.Manifest.Name, err, stdout.String())
	}
	if !resp.Success {
		return &resp, fmt.Errorf("hook %s reported failure: %s", h.Manifest.Name, resp.Error)
	}
	return &resp, nil
}
