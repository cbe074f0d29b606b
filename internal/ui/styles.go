package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Base styles
	BaseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(1, 2)

	// Header styles
	HeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Underline(true)

	TitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")).
			Bold(true).
			Align(lipgloss.Center)

	// Tab styles
	TabStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Margin(0, 1)

	ActiveTabStyle = TabStyle.
			Foreground(lipgloss.Color("36")).
			Bold(true).
			Underline(true)

	InactiveTabStyle = TabStyle.
				Foreground(lipgloss.Color("241"))

	ProgressCompleteStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("36"))

	ProgressEmptyStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))

	// Data styles
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")).
			Bold(true)

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220"))

	// Status styles
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46"))

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226"))

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	HelpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// RenderProgressBar draws a fixed-width bar for percent in [0, 100].
func RenderProgressBar(percent float64, width int) string {
	if width <= 0 {
		width = 20
	}

	filled := int(percent / 100 * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	return ProgressCompleteStyle.Render(strings.Repeat("█", filled)) +
		ProgressEmptyStyle.Render(strings.Repeat("░", width-filled))
}
