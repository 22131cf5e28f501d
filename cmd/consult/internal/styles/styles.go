// Package styles holds the lipgloss styles used by the consult CLI.
package styles

import "github.com/charmbracelet/lipgloss"

// Terminal palette (ANSI 16 so it follows the user's theme).
var (
	ColorMuted   = lipgloss.Color("8")
	ColorAccent  = lipgloss.Color("4")
	ColorError   = lipgloss.Color("1")
	ColorMagenta = lipgloss.Color("5")
)

var (
	// Provider header printed above each answer in fan-out mode.
	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)

	// Model name and other secondary details next to a header.
	DimStyle = lipgloss.NewStyle().Foreground(ColorMuted)

	SpinnerStyle = lipgloss.NewStyle().Foreground(ColorMagenta)

	// Error kind label, e.g. "exhausted retries".
	ErrorKindStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorError)

	ErrorBlockStyle = lipgloss.NewStyle().
			PaddingLeft(1).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(ColorError)
)
