package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/yllada/hostbridge/common"
)

// Mirror tracks the host window's maximized and minimized flags.
//
// The flags are independent: each notification touches exactly one of them.
// Only the Mirror writes to its Values; callers read or watch them.
type Mirror struct {
	log       common.Logger
	maximized *Value[bool]
	minimized *Value[bool]

	// seedMu orders the snapshot against notifications.
	seedMu  sync.Mutex
	touched map[string]bool

	mu   sync.Mutex
	subs []*Subscription
}

// NewMirror listens for window notifications on ch and seeds both flags from
// a window-state snapshot. A failed snapshot leaves both flags false.
//
// Notifications that arrive while the snapshot is in flight win over it.
func NewMirror(ctx context.Context, ch *Channel, log common.Logger) *Mirror {
	m := newMirror(log)

	m.subs = []*Subscription{
		ch.On(common.ChannelWindowMinimize, m.flag("minimized", m.minimized, true)),
		ch.On(common.ChannelWindowRestore, m.flag("minimized", m.minimized, false)),
		ch.On(common.ChannelWindowMaximize, m.flag("maximized", m.maximized, true)),
		ch.On(common.ChannelWindowUnmaximize, m.flag("maximized", m.maximized, false)),
	}

	state, err := snapshot(ctx, ch)
	if err != nil {
		m.log.Warn("window state snapshot failed, assuming normal window: %v", err)
		return m
	}
	m.seed(state)
	return m
}

// NewStaticMirror returns a Mirror that never changes. It backs a Standalone
// session, where there is no host window to follow.
func NewStaticMirror(state common.WindowState) *Mirror {
	m := newMirror(nil)
	m.maximized.set(state.Maximized)
	m.minimized.set(state.Minimized)
	return m
}

func newMirror(log common.Logger) *Mirror {
	if log == nil {
		log = common.NopLogger{}
	}
	return &Mirror{
		log:       log,
		maximized: NewValue(false),
		minimized: NewValue(false),
		touched:   make(map[string]bool, 2),
	}
}

func snapshot(ctx context.Context, ch *Channel) (common.WindowState, error) {
	var state common.WindowState
	ctx, cancel := context.WithTimeout(ctx, common.SnapshotTimeout)
	defer cancel()

	raw, err := ch.Invoke(ctx, common.ChannelWindowState)
	if err != nil {
		return state, err
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return state, fmt.Errorf("decode window state: %w", err)
	}
	return state, nil
}

func (m *Mirror) flag(name string, v *Value[bool], to bool) Handler {
	return func(Message) {
		m.seedMu.Lock()
		defer m.seedMu.Unlock()
		m.touched[name] = true
		if v.set(to) {
			m.log.Debug("window %s=%t", name, to)
		}
	}
}

func (m *Mirror) seed(state common.WindowState) {
	m.seedMu.Lock()
	defer m.seedMu.Unlock()
	if !m.touched["maximized"] {
		m.maximized.set(state.Maximized)
	}
	if !m.touched["minimized"] {
		m.minimized.set(state.Minimized)
	}
}

// Maximized reports whether the host window is maximized.
func (m *Mirror) Maximized() bool { return m.maximized.Get() }

// Minimized reports whether the host window is minimized.
func (m *Mirror) Minimized() bool { return m.minimized.Get() }

// State returns both flags.
func (m *Mirror) State() common.WindowState {
	return common.WindowState{Maximized: m.Maximized(), Minimized: m.Minimized()}
}

// WatchMaximized calls fn with the current maximized flag and on every change.
// fn runs off the channel's dispatch goroutine and may issue requests.
func (m *Mirror) WatchMaximized(fn func(bool)) *Subscription {
	return m.maximized.Watch(fn)
}

// WatchMinimized calls fn with the current minimized flag and on every change.
func (m *Mirror) WatchMinimized(fn func(bool)) *Subscription {
	return m.minimized.Watch(fn)
}

// Close stops following host notifications. The flags keep their last values.
func (m *Mirror) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}
