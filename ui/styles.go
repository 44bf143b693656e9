package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/dgnsrekt/streamtts/internal/message"
)

var (
	green    = lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#04B575"}
	red      = lipgloss.AdaptiveColor{Light: "#FF4672", Dark: "#ED567A"}
	yellow   = lipgloss.AdaptiveColor{Light: "#A67C00", Dark: "#ECFD65"}
	blue     = lipgloss.AdaptiveColor{Light: "#0070C0", Dark: "#00AAFF"}
	gray     = lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}
	midGray  = lipgloss.AdaptiveColor{Light: "#4A4A4A", Dark: "#9B9B9B"}
	fuchsia  = lipgloss.Color("#EE6FF8")
	cream    = lipgloss.AdaptiveColor{Light: "#FFFDF5", Dark: "#FFFDF5"}
	darkGray = lipgloss.Color("#333333")

	titleStyle = lipgloss.NewStyle().
			Foreground(cream).
			Background(lipgloss.Color("#5A56E0")).
			Padding(0, 1).
			Bold(true)

	laneStyle = lipgloss.NewStyle().
			Foreground(cream).
			Background(fuchsia).
			Padding(0, 1)

	subtleStyle     = lipgloss.NewStyle().Foreground(gray)
	labelStyle      = lipgloss.NewStyle().Foreground(midGray)
	errorTitleStyle = lipgloss.NewStyle().Foreground(cream).Background(red).Padding(0, 1)
	errorStyle      = lipgloss.NewStyle().Foreground(red)
	statusStyle     = lipgloss.NewStyle().Foreground(green)
	confirmStyle    = lipgloss.NewStyle().Foreground(yellow).Bold(true)

	countBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(darkGray).
			Padding(0, 1).
			Width(14)
)

func statusColor(s message.Status) lipgloss.TerminalColor {
	switch s {
	case message.StatusPending:
		return midGray
	case message.StatusProcessing:
		return blue
	case message.StatusReady:
		return green
	case message.StatusPlaying:
		return fuchsia
	case message.StatusError:
		return red
	default:
		return gray
	}
}

func statusIcon(s message.Status) string {
	switch s {
	case message.StatusPending:
		return "○"
	case message.StatusProcessing:
		return "⟳"
	case message.StatusReady:
		return "●"
	case message.StatusPlaying:
		return "▶"
	case message.StatusPlayed:
		return "✓"
	case message.StatusError:
		return "✗"
	default:
		return "·"
	}
}
