package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
)

// Color palette
var (
	ColorPrimary   = lipgloss.Color("#7C3AED") // Purple
	ColorSecondary = lipgloss.Color("#06B6D4") // Cyan
	ColorSuccess   = lipgloss.Color("#10B981") // Green
	ColorWarning   = lipgloss.Color("#F59E0B") // Amber
	ColorError     = lipgloss.Color("#EF4444") // Red
	ColorText      = lipgloss.Color("#E5E7EB")
	ColorTextMuted = lipgloss.Color("#9CA3AF")
	ColorBorder    = lipgloss.Color("#374151")
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)

	PendingStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	RunningStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary).
			Bold(true)

	CompletedStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	FailedStyle = lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true)

	CancelledStyle = lipgloss.NewStyle().
			Foreground(ColorWarning).
			Italic(true)

	PhaseBadgeStyle = lipgloss.NewStyle().
			Background(ColorPrimary).
			Foreground(lipgloss.Color("#FFFFFF")).
			Padding(0, 1)

	SubtleStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)
)

// StatusStyle returns the style for a task status.
func StatusStyle(status core.TaskStatus) lipgloss.Style {
	switch status {
	case core.TaskStatusPending:
		return PendingStyle
	case core.TaskStatusRunning:
		return RunningStyle
	case core.TaskStatusCompleted:
		return CompletedStyle
	case core.TaskStatusFailed:
		return FailedStyle
	case core.TaskStatusCancelled:
		return CancelledStyle
	default:
		return lipgloss.NewStyle()
	}
}
