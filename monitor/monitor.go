// Package monitor shows a live view of a bridge session in the terminal:
// host window flags, host health and the broadcast event log. When output is
// not a terminal it prints one line per change instead.
package monitor

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/yllada/hostbridge/ipc"
)

const updateBuffer = 1024

// bridge forwards session callbacks to a channel of tea messages.
type bridge struct {
	out  chan tea.Msg
	done chan struct{}

	once sync.Once
	subs []*ipc.Subscription
}

func newBridge(s ipc.Session) *bridge {
	b := &bridge{
		out:  make(chan tea.Msg, updateBuffer),
		done: make(chan struct{}),
	}

	window := s.Window()
	onWindow := func(bool) { b.send(windowMsg(window.State())) }
	b.subs = append(b.subs,
		s.Subscribe(func(e ipc.Event) { b.send(eventMsg(e)) }),
		window.WatchMaximized(onWindow),
		window.WatchMinimized(onWindow),
	)
	if c, ok := s.(*ipc.Connected); ok {
		c.HealthChecker().SetOnHealthChange(func(_, newState ipc.HealthState) {
			b.send(healthMsg(newState))
		})
	}
	return b
}

func (b *bridge) send(msg tea.Msg) {
	select {
	case b.out <- msg:
	case <-b.done:
	}
}

func (b *bridge) close() {
	b.once.Do(func() {
		close(b.done)
		for _, sub := range b.subs {
			sub.Close()
		}
	})
}

// Run shows the monitor for s until ctx is done or the user quits.
func Run(ctx context.Context, s ipc.Session, out io.Writer) error {
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return runTUI(ctx, s, f)
	}
	return runPlain(ctx, s, out)
}

func runTUI(ctx context.Context, s ipc.Session, out *os.File) error {
	b := newBridge(s)
	defer b.close()

	p := tea.NewProgram(newModel(s, b.out),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithOutput(out),
	)
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func runPlain(ctx context.Context, s ipc.Session, out io.Writer) error {
	b := newBridge(s)
	defer b.close()

	if !s.Connected() {
		fmt.Fprintln(out, "standalone: no host connected")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-b.out:
			if line := plainLine(msg); line != "" {
				fmt.Fprintln(out, line)
			}
		}
	}
}

func plainLine(msg tea.Msg) string {
	switch msg := msg.(type) {
	case eventMsg:
		return fmt.Sprintf("event #%d %s", msg.Seq, msg.Channel)
	case windowMsg:
		return fmt.Sprintf("window maximized=%t minimized=%t", msg.Maximized, msg.Minimized)
	case healthMsg:
		return fmt.Sprintf("health %s", ipc.HealthState(msg))
	}
	return ""
}
