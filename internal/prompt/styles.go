package prompt

import (
	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	colorPrimary = lipgloss.Color("86")  // Cyan
	colorError   = lipgloss.Color("196") // Red
	colorMuted   = lipgloss.Color("240") // Gray
)

var (
	labelStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	hintStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Italic(true)
)

const (
	iconDatabase = "📦"
	iconSecurity = "🔒"
	iconError    = "✗"
)

func renderLabel(text string, secret bool) string {
	icon := iconDatabase
	if secret {
		icon = iconSecurity
	}
	return labelStyle.Render(icon + " " + text)
}

func renderError(text string) string {
	return errorStyle.Render(iconError + " " + text)
}

func renderHint(text string) string {
	return hintStyle.Render(text)
}
