package tui

import "github.com/charmbracelet/lipgloss"

// palette holds the colours of the watch view (Tokyo Night).
type palette struct {
	background lipgloss.Color
	text       lipgloss.Color
	muted      lipgloss.Color
	frame      lipgloss.Color
	accent     lipgloss.Color
	good       lipgloss.Color
	warn       lipgloss.Color
	bad        lipgloss.Color
}

var tokyoNight = palette{
	background: "#1a1b26",
	text:       "#c0caf5",
	muted:      "#565f89",
	frame:      "#414868",
	accent:     "#7aa2f7",
	good:       "#9ece6a",
	warn:       "#e0af68",
	bad:        "#f7768e",
}

// Styles are the lipgloss styles the watch view renders with.
type Styles struct {
	Base    lipgloss.Style
	Dim     lipgloss.Style
	Title   lipgloss.Style
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	// Changed marks a value that differs from the previous poll.
	Changed    lipgloss.Style
	KeyBinding lipgloss.Style
	KeyHint    lipgloss.Style
	Border     lipgloss.Style
	Cell       lipgloss.Style
}

func newStyles(p palette) Styles {
	fg := func(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
	heading := fg(p.accent).Bold(true).Padding(0, 1)
	return Styles{
		Base:       fg(p.text),
		Dim:        fg(p.muted),
		Title:      heading,
		Header:     heading,
		Success:    fg(p.good),
		Warning:    fg(p.warn),
		Error:      fg(p.bad),
		Changed:    fg(p.background).Background(p.warn).Bold(true).Padding(0, 1),
		KeyBinding: fg(p.accent).Bold(true),
		KeyHint:    fg(p.muted),
		Border:     fg(p.frame),
		Cell:       fg(p.text).Padding(0, 1),
	}
}

// DefaultStyles is the dark theme.
var DefaultStyles = newStyles(tokyoNight)

// StatusIcon renders the poller state as a coloured dot.
func StatusIcon(state string, s Styles) string {
	switch state {
	case "ok":
		return s.Success.Render("●")
	case "error":
		return s.Error.Render("●")
	case "paused":
		return s.Warning.Render("●")
	}
	return s.Dim.Render("○")
}
