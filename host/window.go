package host

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/yllada/hostbridge/common"
)

// Controller performs window operations on the real window. It belongs to
// whatever toolkit owns the window.
type Controller interface {
	Minimize() error
	Maximize() error
	Unmaximize() error
	Restore() error
	Hide() error
	Close() error
}

// Window tracks the host window's flags and tells the UI when they change.
type Window struct {
	// pushMu keeps notifications in the same order as the state changes.
	pushMu sync.Mutex

	mu    sync.Mutex
	state common.WindowState
	ctrl  Controller
	out   Broadcaster
	log   common.Logger
}

// NewWindow returns a window starting in state. ctrl may be nil when no real
// window exists; commands then only update the tracked state.
func NewWindow(state common.WindowState, ctrl Controller, log common.Logger) *Window {
	if log == nil {
		log = common.NopLogger{}
	}
	return &Window{state: state, ctrl: ctrl, log: log}
}

// State returns the current flags.
func (w *Window) State() common.WindowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// SetMinimized records a minimize or restore and notifies the UI.
func (w *Window) SetMinimized(minimized bool) {
	w.pushMu.Lock()
	defer w.pushMu.Unlock()

	w.mu.Lock()
	changed := w.state.Minimized != minimized
	w.state.Minimized = minimized
	out := w.out
	w.mu.Unlock()

	if !changed || out == nil {
		return
	}
	name := common.ChannelWindowRestore
	if minimized {
		name = common.ChannelWindowMinimize
	}
	w.notify(out, name)
}

// SetMaximized records a maximize or unmaximize and notifies the UI.
func (w *Window) SetMaximized(maximized bool) {
	w.pushMu.Lock()
	defer w.pushMu.Unlock()

	w.mu.Lock()
	changed := w.state.Maximized != maximized
	w.state.Maximized = maximized
	out := w.out
	w.mu.Unlock()

	if !changed || out == nil {
		return
	}
	name := common.ChannelWindowUnmaximize
	if maximized {
		name = common.ChannelWindowMaximize
	}
	w.notify(out, name)
}

func (w *Window) notify(out Broadcaster, name string) {
	if err := out.Broadcast(name); err != nil {
		w.log.Warn("window %s not delivered: %v", name, err)
	}
}

// Attach answers window-state and the window commands on s and sends state
// changes through it.
func (w *Window) Attach(s *Server) {
	w.mu.Lock()
	w.out = s
	w.mu.Unlock()

	s.HandleInvoke(common.ChannelWindowState, func(context.Context, json.RawMessage) (any, error) {
		return w.State(), nil
	})
	s.HandleInvoke(common.ChannelMinimizeWin, w.command(Controller.Minimize, func() { w.SetMinimized(true) }))
	s.HandleInvoke(common.ChannelRestoreWin, w.command(Controller.Restore, func() { w.SetMinimized(false) }))
	s.HandleInvoke(common.ChannelMaximizeWin, w.command(Controller.Maximize, func() { w.SetMaximized(true) }))
	s.HandleInvoke(common.ChannelUnmaximizeWin, w.command(Controller.Unmaximize, func() { w.SetMaximized(false) }))
	s.HandleInvoke(common.ChannelHideWin, w.command(Controller.Hide, nil))
	s.HandleInvoke(common.ChannelCloseWin, w.command(Controller.Close, nil))
}

func (w *Window) command(op func(Controller) error, apply func()) InvokeHandler {
	return func(context.Context, json.RawMessage) (any, error) {
		if w.ctrl != nil {
			if err := op(w.ctrl); err != nil {
				return nil, err
			}
		}
		if apply != nil {
			apply()
		}
		return nil, nil
	}
}
