package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Style definitions.
var (
	// TitleStyle for headers.
	TitleStyle = lipgloss.NewStyle().Bold(true)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().Faint(true)

	// ErrorStyle for error messages.
	ErrorStyle = lipgloss.NewStyle().Bold(true)

	// LabelStyle for metric names in the detail view.
	LabelStyle = lipgloss.NewStyle().Faint(true).Width(22)
)

// FormatScore formats a ranking score with a sign marker so gains and losses
// scan quickly in the table.
func FormatScore(score float64) string {
	scoreStr := fmt.Sprintf("%.2f", score)

	if score > 0 {
		return scoreStr + " ▲"
	} else if score < 0 {
		return scoreStr + " ▼"
	}

	return scoreStr
}
