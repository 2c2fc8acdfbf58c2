package ui

import "github.com/charmbracelet/lipgloss"

var (
	ColorPrimary   = lipgloss.Color("205") // Pink/magenta
	ColorSuccess   = lipgloss.Color("35")  // Green
	ColorWarning   = lipgloss.Color("214") // Gold/yellow
	ColorError     = lipgloss.Color("196") // Red
	ColorDim       = lipgloss.Color("241") // Gray
	ColorAccent    = lipgloss.Color("39")  // Blue
	ColorHighlight = lipgloss.Color("212") // Light pink
)

const (
	SymbolPrompt  = "❯"
	SymbolBullet  = "●"
	SymbolEmpty   = "○"
	SymbolArrow   = "▸"
	SymbolCheck   = "✓"
	SymbolCross   = "✗"
	SymbolPending = "◐"
)

var (
	PromptStyle = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	AddressStyle = lipgloss.NewStyle().
			Foreground(ColorAccent)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	SelectorCursor = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	SelectorItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252"))

	SelectorDim = lipgloss.NewStyle().
			Foreground(ColorDim)

	SelectorActive = lipgloss.NewStyle().
			Foreground(ColorHighlight).
			Bold(true)

	TitleStyle = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)

	HelpStyle = lipgloss.NewStyle().
			Foreground(ColorDim)
)

// Status renders a wallet transaction state with its symbol.
func Status(state, message string) string {
	var out string
	switch state {
	case "pending":
		out = WarningStyle.Render(SymbolPending + " pending")
	case "success":
		out = SuccessStyle.Render(SymbolCheck + " success")
	case "error":
		out = ErrorStyle.Render(SymbolCross + " error")
	default:
		return SelectorDim.Render(SymbolEmpty + " idle")
	}
	if message != "" {
		out += " " + SelectorDim.Render(message)
	}
	return out
}
