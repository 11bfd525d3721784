// Package tray puts camera controls and head-turn counters in the system tray.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/mukha/internal/movement"
	"github.com/ayusman/mukha/internal/session"
)

// Controller is the part of a session the tray drives.
type Controller interface {
	Start() error
	Stop() error
	Snapshot() session.Snapshot
	Subscribe() (<-chan session.Snapshot, func())
}

// Tray represents the system tray application.
type Tray struct {
	session Controller
	onOpen  func()
	onQuit  func()
	mu      sync.RWMutex

	// Menu items stored for later updates
	menuCamera   *systray.MenuItem
	menuCounters *systray.MenuItem
	menuStatus   *systray.MenuItem
	cancel       func()
}

// New creates a Tray bound to a session.
func New(c Controller) *Tray {
	return &Tray{session: c}
}

// OnOpen sets the callback for the "Open in Browser" item.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit stops the tray event loop.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("Mukha")
	systray.SetTooltip("Mukha head-turn counter")

	snap := t.session.Snapshot()

	t.mu.Lock()
	t.menuCamera = systray.AddMenuItem(CameraTitle(snap.CameraActive), "Start or stop the camera")
	systray.AddSeparator()
	t.menuCounters = systray.AddMenuItem(CountersTitle(snap.Counters), "Head turns counted")
	t.menuCounters.Disable()
	t.menuStatus = systray.AddMenuItem(snap.Status, "Session status")
	t.menuStatus.Disable()
	systray.AddSeparator()
	t.mu.Unlock()

	menuOpen := systray.AddMenuItem("Open in Browser", "Open the live view")
	systray.AddSeparator()
	menuQuit := systray.AddMenuItem("Quit", "Quit Mukha")

	updates, cancel := t.session.Subscribe()
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	go func() {
		for snap := range updates {
			t.apply(snap)
		}
	}()

	go func() {
		for {
			select {
			case <-t.menuCamera.ClickedCh:
				t.handleCamera()
			case <-menuOpen.ClickedCh:
				t.handleOpen()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// apply refreshes the menu from a snapshot.
func (t *Tray) apply(snap session.Snapshot) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuCamera != nil {
		t.menuCamera.SetTitle(CameraTitle(snap.CameraActive))
	}
	if t.menuCounters != nil {
		t.menuCounters.SetTitle(CountersTitle(snap.Counters))
	}
	if t.menuStatus != nil {
		t.menuStatus.SetTitle(snap.Status)
	}
}

func (t *Tray) handleCamera() {
	if t.session.Snapshot().CameraActive {
		t.session.Stop()
	} else {
		// A failure is already reflected in the status line.
		t.session.Start()
	}
	t.apply(t.session.Snapshot())
}

func (t *Tray) handleOpen() {
	t.mu.RLock()
	callback := t.onOpen
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// CameraTitle is the label of the camera toggle item.
func CameraTitle(active bool) string {
	if active {
		return "■ Stop Camera"
	}
	return "▶ Start Camera"
}

// CountersTitle renders the four head-turn counters on one line.
func CountersTitle(c movement.Counters) string {
	return fmt.Sprintf("← %d  → %d  ↑ %d  ↓ %d", c.Left, c.Right, c.Up, c.Down)
}
