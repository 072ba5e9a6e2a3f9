// Package tray provides a system tray interface for the SteadyShot capture app.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/steadyshot/internal/app"
	"github.com/ayusman/steadyshot/internal/scan"
)

// Tray represents the system tray application.
type Tray struct {
	onMode    func(mode scan.Mode)
	onCapture func()
	onOpen    func()
	onQuit    func()
	snapshot  app.Snapshot
	mu        sync.RWMutex

	// Menu items stored for later updates
	menuStatus  *systray.MenuItem
	menuFace    *systray.MenuItem
	menuIDCard  *systray.MenuItem
	menuCapture *systray.MenuItem
}

// New creates a new Tray showing the given mode until the first snapshot arrives.
func New(mode scan.Mode) *Tray {
	return &Tray{
		snapshot: app.Snapshot{
			Status:  scan.StatusInitializing,
			Message: scan.StatusInitializing.Describe(mode),
			Mode:    mode,
		},
	}
}

// OnMode sets the callback called when a capture mode is picked.
func (t *Tray) OnMode(fn func(mode scan.Mode)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMode = fn
}

// OnCapture sets the callback called when "Capture now" is clicked.
func (t *Tray) OnCapture(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCapture = fn
}

// OnOpen sets the callback called when the web UI menu item is clicked.
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
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// Follow applies every snapshot from updates until the channel closes.
func (t *Tray) Follow(updates <-chan app.Snapshot) {
	for snap := range updates {
		t.SetSnapshot(snap)
	}
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("SteadyShot")
	systray.SetTooltip("SteadyShot hands-free capture")

	t.mu.Lock()
	t.menuStatus = systray.AddMenuItem("", "Scanner status")
	t.menuStatus.Disable()
	systray.AddSeparator()

	t.menuFace = systray.AddMenuItemCheckbox(scan.ModeFace.Label(), "Capture faces", false)
	t.menuIDCard = systray.AddMenuItemCheckbox(scan.ModeIDCard.Label(), "Capture ID cards", false)
	systray.AddSeparator()

	t.menuCapture = systray.AddMenuItem("Capture now", "Take a manual capture")
	menuOpen := systray.AddMenuItem("Open UI...", "Open the capture page in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit SteadyShot")
	t.mu.Unlock()

	t.render()

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuFace.ClickedCh:
				t.handleMode(scan.ModeFace)
			case <-t.menuIDCard.ClickedCh:
				t.handleMode(scan.ModeIDCard)
			case <-t.menuCapture.ClickedCh:
				t.handle(func() func() { return t.onCapture })
			case <-menuOpen.ClickedCh:
				t.handle(func() func() { return t.onOpen })
			case <-menuQuit.ClickedCh:
				t.handle(func() func() { return t.onQuit })
				systray.Quit()
				return
			}
		}
	}()
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {}

func (t *Tray) handleMode(mode scan.Mode) {
	t.mu.RLock()
	callback := t.onMode
	t.mu.RUnlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(mode)
	}
}

func (t *Tray) handle(pick func() func()) {
	t.mu.RLock()
	callback := pick()
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// SetSnapshot updates the status line and mode checkmarks.
func (t *Tray) SetSnapshot(snap app.Snapshot) {
	t.mu.Lock()
	t.snapshot = snap
	t.mu.Unlock()

	t.render()
}

// Snapshot returns the last snapshot shown.
func (t *Tray) Snapshot() app.Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot
}

func (t *Tray) render() {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuStatus == nil {
		return
	}

	t.menuStatus.SetTitle(StatusLine(t.snapshot))
	setChecked(t.menuFace, t.snapshot.Mode == scan.ModeFace)
	setChecked(t.menuIDCard, t.snapshot.Mode == scan.ModeIDCard)

	if t.snapshot.Status.Triggerable() {
		t.menuCapture.Enable()
	} else {
		t.menuCapture.Disable()
	}
	if t.snapshot.ManualFallback {
		t.menuCapture.SetTitle("Capture now (manual)")
	} else {
		t.menuCapture.SetTitle("Capture now")
	}
}

func setChecked(item *systray.MenuItem, checked bool) {
	if checked {
		item.Check()
	} else {
		item.Uncheck()
	}
}

// StatusLine renders a snapshot as a single menu line.
func StatusLine(snap app.Snapshot) string {
	line := snap.Mode.Label() + ": " + snap.Message
	if snap.Status == scan.StatusLocking {
		line += fmt.Sprintf(" %d%%", int(snap.Progress*100))
	}
	return line
}
