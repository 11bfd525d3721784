package hook

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ayusman/mukha/internal/logging"
	"github.com/ayusman/mukha/internal/movement"
)

// writeHook creates <root>/<name> with a manifest and a shell script.
func writeHook(t *testing.T, root string, m Manifest, script string) string {
	t.Helper()
	dir := filepath.Join(root, m.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create hook dir: %v", err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), data, 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	if script != "" {
		if err := os.WriteFile(filepath.Join(dir, m.Executable), []byte(script), 0755); err != nil {
			t.Fatalf("failed to write script: %v", err)
		}
	}
	return dir
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("skipping shell hook test on Windows")
	}
}

func TestRegistry_Discover(t *testing.T) {
	root := t.TempDir()
	dir := writeHook(t, root, Manifest{
		Name:        "arrows",
		Version:     "1.0.0",
		Description: "press arrow keys",
		Executable:  "run.sh",
		Directions:  []string{"left", "right"},
	}, "")
	writeHook(t, root, Manifest{Name: "all", Executable: "run.sh"}, "")

	// Ignored: a plain file, a directory without a manifest, a bad manifest.
	os.WriteFile(filepath.Join(root, "README"), []byte("x"), 0644)
	os.MkdirAll(filepath.Join(root, "empty"), 0755)
	os.MkdirAll(filepath.Join(root, "broken"), 0755)
	os.WriteFile(filepath.Join(root, "broken", manifestFile), []byte("{not json"), 0644)

	r := NewRegistry(root, logging.Discard())
	if err := r.Discover(); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	hooks := r.List()
	if len(hooks) != 2 {
		t.Fatalf("List() returned %d hooks, want 2", len(hooks))
	}
	if hooks[0].Manifest.Name != "all" || hooks[1].Manifest.Name != "arrows" {
		t.Errorf("List() not sorted: %s, %s", hooks[0].Manifest.Name, hooks[1].Manifest.Name)
	}

	h, err := r.Get("arrows")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if h.Path != dir || h.Executable != filepath.Join(dir, "run.sh") {
		t.Errorf("hook paths = %q, %q", h.Path, h.Executable)
	}
	if _, err := r.Get("missing"); err != ErrHookNotFound {
		t.Errorf("Get(missing) error = %v, want ErrHookNotFound", err)
	}
}

func TestRegistry_MissingDir(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "nope"), nil)
	if err := r.Discover(); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(r.List()) != 0 {
		t.Error("expected no hooks")
	}
}

func TestRegistry_For(t *testing.T) {
	root := t.TempDir()
	writeHook(t, root, Manifest{Name: "horizontal", Executable: "x", Directions: []string{"left", "right"}}, "")
	writeHook(t, root, Manifest{Name: "any", Executable: "x"}, "")

	r := NewRegistry(root, nil)
	r.Discover()

	tests := []struct {
		dir  movement.Direction
		want []string
	}{
		{movement.Left, []string{"any", "horizontal"}},
		{movement.Up, []string{"any"}},
	}
	for _, tt := range tests {
		t.Run(tt.dir.String(), func(t *testing.T) {
			var got []string
			for _, h := range r.For(tt.dir) {
				got = append(got, h.Manifest.Name)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("For(%v) = %v, want %v", tt.dir, got, tt.want)
			}
		})
	}
}

func TestExecutor_Execute(t *testing.T) {
	skipOnWindows(t)

	root := t.TempDir()
	writeHook(t, root, Manifest{Name: "echo", Executable: "run.sh"}, `#!/bin/sh
INPUT=$(cat)
case "$INPUT" in
  *'"direction":"right"'*) echo '{"success":true}' ;;
  *) echo '{"success":false,"error":"unexpected input"}' ;;
esac
`)
	r := NewRegistry(root, nil)
	r.Discover()
	h, _ := r.Get("echo")

	e := NewExecutor(5 * time.Second)
	resp, err := e.Execute(context.Background(), h, Event{Direction: "right", Counters: movement.Counters{Right: 1}})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !resp.Success {
		t.Error("expected success")
	}

	if _, err := e.Execute(context.Background(), h, Event{Direction: "left"}); err == nil {
		t.Error("expected error for success=false response")
	}
}

func TestExecutor_Failures(t *testing.T) {
	skipOnWindows(t)

	tests := []struct {
		name    string
		script  string
		timeout time.Duration
		wantErr string
	}{
		{"timeout", "#!/bin/sh\nexec sleep 5\n", 50 * time.Millisecond, "timed out"},
		{"non-zero exit", "#!/bin/sh\necho oops >&2\nexit 3\n", time.Second, "stderr: oops"},
		{"invalid json", "#!/bin/sh\necho not-json\n", time.Second, "parse hook"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeHook(t, root, Manifest{Name: "h", Executable: "run.sh"}, tt.script)
			r := NewRegistry(root, nil)
			r.Discover()
			h, _ := r.Get("h")

			_, err := NewExecutor(tt.timeout).Execute(context.Background(), h, Event{Direction: "up"})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Execute() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDispatcher_OnTurn(t *testing.T) {
	skipOnWindows(t)

	root := t.TempDir()
	out := filepath.Join(t.TempDir(), "turns.log")
	writeHook(t, root, Manifest{Name: "logger", Executable: "run.sh", Directions: []string{"down"}}, `#!/bin/sh
cat >> "`+out+`"
echo >> "`+out+`"
echo '{"success":true}'
`)

	r := NewRegistry(root, nil)
	r.Discover()
	d := NewDispatcher(r, NewExecutor(5*time.Second), 0, logging.Discard())

	d.OnTurn(movement.Down, movement.Counters{Down: 1})
	d.OnTurn(movement.Left, movement.Counters{Down: 1, Left: 1}) // not subscribed
	d.Close()

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("hook did not run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("hook ran %d times, want 1: %q", len(lines), data)
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Direction != "down" || ev.Counters.Down != 1 {
		t.Errorf("event = %+v", ev)
	}
}

func TestDispatcher_DropsWhenBusy(t *testing.T) {
	skipOnWindows(t)

	root := t.TempDir()
	writeHook(t, root, Manifest{Name: "slow", Executable: "run.sh"}, "#!/bin/sh\nexec sleep 5\n")
	r := NewRegistry(root, nil)
	r.Discover()

	d := NewDispatcher(r, NewExecutor(10*time.Second), 1, logging.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.OnTurn(movement.Right, movement.Counters{Right: 1})
		}()
	}
	wg.Wait()

	if d.slots.TryAcquire(1) {
		t.Error("slot free while a hook should be running")
		d.slots.Release(1)
	}

	done := make(chan struct{})
	go func() {
		d.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not cancel the running hook")
	}
}
