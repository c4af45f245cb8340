// Package tray provides the system tray indicator of the host process.
package tray

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fyne.io/systray"

	"github.com/yllada/hostbridge/common"
	"github.com/yllada/hostbridge/host"
)

// Pre-generated icons for performance.
var (
	iconIdle = GenerateIdleIcon()
	iconBusy = GenerateBusyIcon()
)

const updateCheckTimeout = 2 * time.Minute

// Indicator manages the system tray icon and menu of the host.
type Indicator struct {
	window  *host.Window
	updates *host.Updates
	onQuit  func()
	log     common.Logger

	statusItem    *systray.MenuItem
	updateItem    *systray.MenuItem
	maximizedItem *systray.MenuItem
	minimizedItem *systray.MenuItem

	quitOnce sync.Once
}

// New creates a tray indicator. onQuit runs once when the user picks Quit or
// the tray is torn down.
func New(window *host.Window, updates *host.Updates, onQuit func(), log common.Logger) *Indicator {
	if log == nil {
		log = common.NopLogger{}
	}
	return &Indicator{window: window, updates: updates, onQuit: onQuit, log: log}
}

// Run starts the system tray indicator.
// It blocks until Quit is called.
func (t *Indicator) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit removes the indicator and unblocks Run.
func (t *Indicator) Quit() {
	systray.Quit()
}

func (t *Indicator) onReady() {
	systray.SetIcon(iconIdle)
	systray.SetTitle(common.AppName)
	systray.SetTooltip(common.AppName + " - Serving")

	t.statusItem = systray.AddMenuItem("Serving requests", "Host status")
	t.statusItem.Disable()

	systray.AddSeparator()

	t.updateItem = systray.AddMenuItem("Check for Updates", "Check for a new version")
	go func() {
		for range t.updateItem.ClickedCh {
			t.checkForUpdates()
		}
	}()

	state := t.window.State()
	t.maximizedItem = systray.AddMenuItemCheckbox("Maximized", "Window maximized", state.Maximized)
	t.minimizedItem = systray.AddMenuItemCheckbox("Minimized", "Window minimized", state.Minimized)
	go t.toggleLoop(t.maximizedItem, t.window.SetMaximized)
	go t.toggleLoop(t.minimizedItem, t.window.SetMinimized)

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Stop the "+common.AppName+" host")
	go func() {
		for range quitItem.ClickedCh {
			t.quit()
			systray.Quit()
		}
	}()
}

func (t *Indicator) onExit() {
	t.quit()
	t.log.Info("Tray indicator cleanup completed")
}

func (t *Indicator) quit() {
	t.quitOnce.Do(func() {
		if t.onQuit != nil {
			t.onQuit()
		}
	})
}

func (t *Indicator) toggleLoop(item *systray.MenuItem, set func(bool)) {
	for range item.ClickedCh {
		if item.Checked() {
			item.Uncheck()
		} else {
			item.Check()
		}
		set(item.Checked())
	}
}

func (t *Indicator) checkForUpdates() {
	t.updateItem.Disable()
	defer t.updateItem.Enable()

	systray.SetIcon(iconBusy)
	t.statusItem.SetTitle("Checking for updates...")

	ctx, cancel := context.WithTimeout(context.Background(), updateCheckTimeout)
	defer cancel()
	info, err := t.updates.CheckForUpdates(ctx)
	if err != nil {
		t.log.Warn("Tray: update check failed: %v", err)
	}

	systray.SetIcon(iconIdle)
	t.statusItem.SetTitle(updateStatus(info, err))
}

// updateStatus renders the outcome of an update check for the status item.
func updateStatus(info host.UpdateInfo, err error) string {
	switch {
	case err != nil:
		return "Update check failed"
	case !info.Available:
		return "Up to date"
	case info.Version != "":
		return fmt.Sprintf("Update %s available", info.Version)
	default:
		return "Update available"
	}
}
