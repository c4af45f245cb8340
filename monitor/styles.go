package monitor

import "github.com/charmbracelet/lipgloss"

var (
	colorBrand = lipgloss.Color("33")
	colorOK    = lipgloss.Color("42")
	colorWarn  = lipgloss.Color("214")
	colorBad   = lipgloss.Color("196")
	colorDim   = lipgloss.Color("241")

	titleStyle  = lipgloss.NewStyle().Foreground(colorBrand).Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(colorDim)
	onStyle     = lipgloss.NewStyle().Foreground(colorOK).Bold(true)
	offStyle    = lipgloss.NewStyle().Foreground(colorDim)
	errorStyle  = lipgloss.NewStyle().Foreground(colorBad)
	statusStyle = lipgloss.NewStyle().Foreground(colorDim)
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Background(lipgloss.Color("238")).Padding(0, 2)
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1)
)

func flagLabel(on bool) string {
	if on {
		return onStyle.Render("yes")
	}
	return offStyle.Render("no")
}
