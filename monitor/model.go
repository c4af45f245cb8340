package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/hostbridge/common"
	"github.com/yllada/hostbridge/ipc"
)

const (
	maxLogLines    = 500
	requestTimeout = 10 * time.Second
	headerHeight   = 6
	footerHeight   = 2
)

type eventMsg ipc.Event

type windowMsg common.WindowState

type healthMsg ipc.HealthState

type resultMsg struct {
	label string
	text  string
	err   error
}

type model struct {
	session ipc.Session
	updates <-chan tea.Msg

	window common.WindowState
	health ipc.HealthState
	lines  []string
	status string

	statusErr bool
	width     int
	height    int
	viewport  viewport.Model
	ready     bool
	now       func() time.Time
}

func newModel(s ipc.Session, updates <-chan tea.Msg) model {
	return model{
		session: s,
		updates: updates,
		window:  s.Window().State(),
		health:  s.Health().State,
		status:  "Press ? for keys",
		now:     time.Now,
	}
}

// waitFor delivers the next session update to the program.
func waitFor(updates <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-updates
		if !ok {
			return nil
		}
		return msg
	}
}

func (m model) Init() tea.Cmd {
	return waitFor(m.updates)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		bodyHeight := max(msg.Height-headerHeight-footerHeight, 1)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, bodyHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = bodyHeight
		}
		m.refreshLog()
		return m, nil
	case eventMsg:
		m.appendLine(fmt.Sprintf("#%d %s", msg.Seq, msg.Channel), msg.Received)
		return m, waitFor(m.updates)
	case windowMsg:
		m.window = common.WindowState(msg)
		return m, waitFor(m.updates)
	case healthMsg:
		m.health = ipc.HealthState(msg)
		return m, waitFor(m.updates)
	case resultMsg:
		if msg.err != nil {
			m.setError(fmt.Sprintf("%s failed: %v", msg.label, msg.err))
			m.appendLine(errorStyle.Render(msg.label+": "+msg.err.Error()), m.now())
			return m, nil
		}
		m.status = msg.label + " done"
		m.statusErr = false
		m.appendLine(msg.label+": "+msg.text, m.now())
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "?":
		m.status = "v version  i info  l log  m max/unmax  n minimize  r restore  q quit"
		m.statusErr = false
		return m, nil
	case "v":
		return m, m.run("version", func(ctx context.Context) (string, error) {
			return m.session.Version(ctx)
		})
	case "i":
		return m, m.run("app info", func(ctx context.Context) (string, error) {
			info, err := m.session.AppInfo(ctx)
			return fmt.Sprintf("%s %s %s", info.Version, info.Locale, info.Platform), err
		})
	case "l":
		return m, m.run("request log", func(ctx context.Context) (string, error) {
			records, err := m.session.RequestLog(ctx, 10)
			if err != nil {
				return "", err
			}
			parts := make([]string, 0, len(records))
			for _, r := range records {
				parts = append(parts, fmt.Sprintf("%s(%s,%dms)", r.Channel, r.Outcome, r.DurationMS))
			}
			return strings.Join(parts, " "), nil
		})
	case "m":
		if m.window.Maximized {
			return m, m.run("unmaximize", wrap(m.session.UnmaximizeWindow))
		}
		return m, m.run("maximize", wrap(m.session.MaximizeWindow))
	case "n":
		return m, m.run("minimize", wrap(m.session.MinimizeWindow))
	case "r":
		return m, m.run("restore", wrap(m.session.RestoreWindow))
	}

	var cmd tea.Cmd
	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func wrap(fn func(context.Context) error) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		return "ok", fn(ctx)
	}
}

// run performs a session call off the update loop.
func (m model) run(label string, fn func(ctx context.Context) (string, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		text, err := fn(ctx)
		return resultMsg{label: label, text: text, err: err}
	}
}

func (m *model) setError(text string) {
	m.status = text
	m.statusErr = true
}

func (m *model) appendLine(text string, at time.Time) {
	m.lines = append(m.lines, labelStyle.Render(at.Format("15:04:05"))+" "+text)
	if len(m.lines) > maxLogLines {
		m.lines = m.lines[len(m.lines)-maxLogLines:]
	}
	m.refreshLog()
}

func (m *model) refreshLog() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func (m model) View() string {
	if !m.ready {
		return "Connecting..."
	}

	mode := onStyle.Render("connected")
	if !m.session.Connected() {
		mode = errorStyle.Render("standalone")
	}
	header := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(common.AppName+" monitor"),
		fmt.Sprintf("%s %s   %s %s", labelStyle.Render("mode"), mode, labelStyle.Render("health"), healthLabel(m.health)),
		fmt.Sprintf("%s %s   %s %s", labelStyle.Render("maximized"), flagLabel(m.window.Maximized), labelStyle.Render("minimized"), flagLabel(m.window.Minimized)),
	)

	status := statusStyle.Render(m.status)
	if m.statusErr {
		status = errorStyle.Render(m.status)
	}
	footer := footerStyle.Width(max(m.width, 1)).Render(status)

	return lipgloss.JoinVertical(lipgloss.Left,
		panelStyle.Render(header),
		m.viewport.View(),
		footer,
	)
}

func healthLabel(h ipc.HealthState) string {
	switch h {
	case ipc.HealthHealthy:
		return onStyle.Render(h.String())
	case ipc.HealthDegraded:
		return lipgloss.NewStyle().Foreground(colorWarn).Render(h.String())
	case ipc.HealthUnhealthy:
		return errorStyle.Render(h.String())
	default:
		return offStyle.Render(h.String())
	}
}
