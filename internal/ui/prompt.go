package ui

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// Prompt is a single-line input with a styled label
type Prompt struct {
	label     string
	input     textinput.Model
	done      bool
	cancelled bool
}

// NewPrompt creates a new prompt component
func NewPrompt(label, placeholder string) Prompt {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.CharLimit = 64
	ti.Width = 40
	ti.Focus()

	return Prompt{
		label: label,
		input: ti,
	}
}

// Value returns the current input value
func (p *Prompt) Value() string {
	return p.input.Value()
}

// SetValue sets the input value
func (p *Prompt) SetValue(s string) {
	p.input.SetValue(s)
}

// Done returns whether input was submitted or cancelled
func (p *Prompt) Done() bool {
	return p.done
}

// Cancelled returns whether the prompt was cancelled
func (p *Prompt) Cancelled() bool {
	return p.cancelled
}

// Update handles input events
func (p *Prompt) Update(msg tea.Msg) (*Prompt, tea.Cmd) {
	if p.done {
		return p, nil
	}
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "enter":
			p.done = true
			return p, nil
		case "esc", "ctrl+c":
			p.done = true
			p.cancelled = true
			return p, nil
		}
	}
	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	return p, cmd
}

// View renders the prompt
func (p *Prompt) View() string {
	if p.done {
		return ""
	}
	return TitleStyle.Render(p.label) + "\n" + PromptStyle.Render(SymbolPrompt) + " " + p.input.View() + "\n"
}
